package firmware

import "math"

// Manifest describes the firmware image a remote publisher is offering. It is
// built fresh for every poll cycle and never persisted.
type Manifest struct {
	// Version is the offered revision, already cast into the Version range.
	Version Version
	// File is the image location.
	File string
	// Declared is the numeric version exactly as published, before the cast.
	Declared float64
}

// Truncated reports whether the published version did not survive the cast
// into the Version range unchanged.
func (m Manifest) Truncated() bool {
	return float64(m.Version) != m.Declared
}

// Fractional reports whether the published version had a fractional part that
// the cast dropped.
func (m Manifest) Fractional() bool {
	return m.Declared != math.Trunc(m.Declared)
}

// OutOfRange reports whether the whole part of the published version lies
// outside the Version range and wrapped in the cast.
func (m Manifest) OutOfRange() bool {
	t := math.Trunc(m.Declared)
	return math.IsNaN(t) || t < math.MinInt8 || t > math.MaxInt8
}
