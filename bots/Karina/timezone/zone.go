// Package timezone resolves the zone all of Karina's schedules live in.
package timezone

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
)

const (
	DefaultName   = "Europe/Moscow"
	DefaultOffset = 3
)

// Load returns the IANA zone called name. When the name is empty or unknown
// it falls back to a fixed zone offsetHours east of UTC.
func Load(name string, offsetHours int) (*time.Location, error) {
	if name == "" {
		return Fixed(offsetHours), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return Fixed(offsetHours), errors.Wrapf(err, "unknown time zone %q", name)
	}
	return loc, nil
}

// Fixed returns a zone without daylight saving, named like "UTC+3".
func Fixed(offsetHours int) *time.Location {
	name := fmt.Sprintf("UTC%+d", offsetHours)
	if offsetHours == 0 {
		name = "UTC"
	}
	return time.FixedZone(name, offsetHours*60*60)
}
