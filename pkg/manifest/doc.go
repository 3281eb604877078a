// Package manifest turns the bytes of a remote update manifest into a
// firmware.Manifest.
//
// A manifest is a small JSON object:
//
//	{"version": 2, "file": "https://updates.example.com/fw-2.bin"}
//
// Parsing never panics on hostile input; every rejection is a *ParseError
// that matches one of ErrMalformedDocument, ErrMissingField or ErrWrongType.
package manifest
