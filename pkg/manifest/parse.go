package manifest

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/pkg/errors"
)

const (
	FieldVersion = "version"
	FieldFile    = "file"
)

// Parse decodes a manifest document. Keys are matched case sensitively and
// both fields are required. The version is truncated toward zero and cast into
// the firmware.Version range without any range check; callers that care can
// compare against Manifest.Declared.
func Parse(b []byte) (firmware.Manifest, error) {
	var m firmware.Manifest

	// Fixed size receive buffers are zero padded.
	b = bytes.TrimSpace(bytes.TrimRight(b, "\x00"))
	if len(b) == 0 {
		return m, malformed(errors.New("empty document"))
	}

	doc, err := decodeObject(b)
	if err != nil {
		return m, err
	}

	rawVersion, ok := doc[FieldVersion]
	if !ok {
		return m, missing(FieldVersion)
	}
	num, ok := rawVersion.(json.Number)
	if !ok {
		return m, wrongType(FieldVersion, errors.Errorf("expected number, got %s", describe(rawVersion)))
	}
	declared, err := strconv.ParseFloat(num.String(), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return m, wrongType(FieldVersion, err)
	}

	rawFile, ok := doc[FieldFile]
	if !ok {
		return m, missing(FieldFile)
	}
	file, ok := rawFile.(string)
	if !ok {
		return m, wrongType(FieldFile, errors.Errorf("expected string, got %s", describe(rawFile)))
	}
	if file == "" {
		return m, wrongType(FieldFile, errors.New("empty string"))
	}

	m.Declared = declared
	m.Version = castVersion(declared)
	m.File = file
	return m, nil
}

// decodeObject reads the top level object. When a key repeats, the first
// occurrence wins.
func decodeObject(b []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, malformed(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, malformed(errors.New("document is not an object"))
	}

	doc := map[string]interface{}{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed(err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, malformed(errors.Errorf("unexpected object key %v", tok))
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, malformed(err)
		}
		if _, seen := doc[key]; !seen {
			doc[key] = value
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, malformed(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed(errors.New("trailing data after document"))
	}
	return doc, nil
}

// castVersion mirrors a C style narrowing cast: truncate toward zero, then keep
// the low 8 bits. Values outside the int64 range saturate first so the result
// stays deterministic.
func castVersion(f float64) firmware.Version {
	t := math.Trunc(f)
	var i int64
	switch {
	case math.IsNaN(t):
		i = 0
	case t >= math.MaxInt64:
		i = math.MaxInt64
	case t <= math.MinInt64:
		i = math.MinInt64
	default:
		i = int64(t)
	}
	return firmware.Version(int8(i))
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "unknown"
	}
}
