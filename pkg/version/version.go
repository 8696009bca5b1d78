// Package version carries the client's build information and parses
// station firmware versions.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Build information, overridable at link time:
//
//	go build -ldflags "-X .../pkg/version.Version=v1.2.0"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns a one-line build description.
func String() string {
	return fmt.Sprintf("cvlink %s (%s, built %s)", Version, Commit, Date)
}

// Firmware is a parsed "major.minor.patch" station firmware version,
// as DCC-EX reports it in its status reply and mDNS TXT records.
type Firmware struct {
	Major int
	Minor int
	Patch int
}

// ParseFirmware parses a firmware version string. A leading "V-" or
// "v" prefix (DCC-EX convention) is accepted; the patch component is
// optional.
func ParseFirmware(s string) (Firmware, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "V-"), "v")

	parts := strings.Split(trimmed, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Firmware{}, fmt.Errorf("invalid firmware version %q", s)
	}

	var fw Firmware
	var err error
	if fw.Major, err = strconv.Atoi(parts[0]); err != nil {
		return Firmware{}, fmt.Errorf("invalid firmware version %q: bad major", s)
	}
	if fw.Minor, err = strconv.Atoi(parts[1]); err != nil {
		return Firmware{}, fmt.Errorf("invalid firmware version %q: bad minor", s)
	}
	if len(parts) == 3 {
		if fw.Patch, err = strconv.Atoi(parts[2]); err != nil {
			return Firmware{}, fmt.Errorf("invalid firmware version %q: bad patch", s)
		}
	}
	return fw, nil
}

// String returns the version as "major.minor.patch".
func (f Firmware) String() string {
	return fmt.Sprintf("%d.%d.%d", f.Major, f.Minor, f.Patch)
}

// AtLeast reports whether the firmware is at or above the given
// version.
func (f Firmware) AtLeast(other Firmware) bool {
	if f.Major != other.Major {
		return f.Major > other.Major
	}
	if f.Minor != other.Minor {
		return f.Minor > other.Minor
	}
	return f.Patch >= other.Patch
}
