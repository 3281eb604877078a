package manifest

import (
	"fmt"
	"testing"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		Name     string
		Input    string
		Expected firmware.Manifest
	}{
		{
			Name:     "basic",
			Input:    `{"version": 2, "file": "https://x/fw.bin"}`,
			Expected: firmware.Manifest{Version: 2, File: "https://x/fw.bin", Declared: 2},
		},
		{
			Name:     "extra-fields",
			Input:    `{"file": "http://host/a.bin", "version": 7, "notes": ["x"]}`,
			Expected: firmware.Manifest{Version: 7, File: "http://host/a.bin", Declared: 7},
		},
		{
			Name:     "zero-padded",
			Input:    "{\"version\": 3, \"file\": \"f\"}\n\x00\x00\x00",
			Expected: firmware.Manifest{Version: 3, File: "f", Declared: 3},
		},
		{
			Name:     "fractional",
			Input:    `{"version": 4.9, "file": "f"}`,
			Expected: firmware.Manifest{Version: 4, File: "f", Declared: 4.9},
		},
		{
			Name:     "negative",
			Input:    `{"version": -3, "file": "f"}`,
			Expected: firmware.Manifest{Version: -3, File: "f", Declared: -3},
		},
		{
			Name:     "wraps-past-127",
			Input:    `{"version": 128, "file": "f"}`,
			Expected: firmware.Manifest{Version: -128, File: "f", Declared: 128},
		},
		{
			Name:     "wraps-past-255",
			Input:    `{"version": 258, "file": "f"}`,
			Expected: firmware.Manifest{Version: 2, File: "f", Declared: 258},
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			m, err := Parse([]byte(tc.Input))
			assert.NilError(t, err)
			assert.Equal(t, tc.Expected, m)
		})
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		Name  string
		Input string
		Kind  ErrorKind
		Field string
	}{
		{Name: "empty", Input: "", Kind: MalformedDocument},
		{Name: "nul-only", Input: "\x00\x00\x00", Kind: MalformedDocument},
		{Name: "not-json", Input: "not json", Kind: MalformedDocument},
		{Name: "truncated", Input: `{"version": 2, "file": "https://x/f`, Kind: MalformedDocument},
		{Name: "array", Input: `[1, 2]`, Kind: MalformedDocument},
		{Name: "number", Input: `3`, Kind: MalformedDocument},
		{Name: "null", Input: `null`, Kind: MalformedDocument},
		{Name: "trailing", Input: `{"version": 2, "file": "f"} {}`, Kind: MalformedDocument},
		{Name: "no-version", Input: `{"file": "f"}`, Kind: MissingField, Field: FieldVersion},
		{Name: "no-file", Input: `{"version": 2}`, Kind: MissingField, Field: FieldFile},
		{Name: "case-sensitive", Input: `{"Version": 2, "file": "f"}`, Kind: MissingField, Field: FieldVersion},
		{Name: "empty-object", Input: `{}`, Kind: MissingField, Field: FieldVersion},
		{Name: "version-string", Input: `{"version": "2", "file": "f"}`, Kind: WrongType, Field: FieldVersion},
		{Name: "version-null", Input: `{"version": null, "file": "f"}`, Kind: WrongType, Field: FieldVersion},
		{Name: "version-bool", Input: `{"version": true, "file": "f"}`, Kind: WrongType, Field: FieldVersion},
		{Name: "file-number", Input: `{"version": 2, "file": 5}`, Kind: WrongType, Field: FieldFile},
		{Name: "file-empty", Input: `{"version": 2, "file": ""}`, Kind: WrongType, Field: FieldFile},
		{Name: "file-null", Input: `{"version": 2, "file": null}`, Kind: WrongType, Field: FieldFile},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := Parse([]byte(tc.Input))
			assert.Assert(t, err != nil)

			var perr *ParseError
			assert.Assert(t, errors.As(err, &perr), "unexpected error type %T", err)
			assert.Equal(t, tc.Kind, perr.Kind)
			assert.Equal(t, tc.Field, perr.Field)
			assert.Check(t, errors.Is(err, tc.Kind.sentinel()))
		})
	}
}

func TestParseErrorSentinels(t *testing.T) {
	_, err := Parse([]byte(`{"version": "x", "file": "f"}`))
	assert.Check(t, errors.Is(err, ErrWrongType))
	assert.Check(t, !errors.Is(err, ErrMissingField))
	assert.Check(t, !errors.Is(err, ErrMalformedDocument))

	wrapped := errors.Wrap(err, "cycle")
	assert.Check(t, errors.Is(wrapped, ErrWrongType))
}

func TestParseDuplicateKeysKeepFirst(t *testing.T) {
	m, err := Parse([]byte(`{"version": 2, "file": "a", "version": 9, "file": "b"}`))
	assert.NilError(t, err)
	assert.Equal(t, firmware.Manifest{Version: 2, File: "a", Declared: 2}, m)

	// A later well typed duplicate does not rescue a bad first value.
	_, err = Parse([]byte(`{"version": "2", "file": "a", "version": 3}`))
	assert.Check(t, errors.Is(err, ErrWrongType))
}

func TestParseHugeVersion(t *testing.T) {
	for _, in := range []string{"1e300", "-1e300", "1e400"} {
		t.Run(in, func(t *testing.T) {
			m, err := Parse([]byte(fmt.Sprintf(`{"version": %s, "file": "f"}`, in)))
			assert.NilError(t, err)
			assert.Check(t, m.Truncated())
		})
	}
}

func TestParseArbitraryBytes(t *testing.T) {
	inputs := [][]byte{
		{0xff, 0xfe, 0x00},
		[]byte(`{"version":`),
		[]byte(`{"version": 1, "file": "\ud800"}`),
		[]byte(`{{{{{{{{`),
		[]byte(`{"version": 1e, "file": "f"}`),
	}
	for i, in := range inputs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			// Must return, not panic.
			_, _ = Parse(in)
		})
	}
}
