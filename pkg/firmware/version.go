package firmware

import "strconv"

// Version is the firmware revision number. The platform stores it as a signed
// 8-bit integer; comparisons use plain integer ordering and nothing guards
// against a publisher wrapping past 127.
type Version int8

// DefaultVersion is reported for a device that has never recorded an
// installed version.
const DefaultVersion Version = 1

func (v Version) String() string {
	return strconv.Itoa(int(v))
}
