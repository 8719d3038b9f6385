package detector

import (
	"bytes"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
)

type Decision int

const (
	// Write appends a new location row
	Write Decision = iota
	// Refresh extends the cache lifetime without touching the database
	Refresh
	// Drop discards the sighting entirely
	Drop
)

func (d Decision) String() string {
	switch d {
	case Write:
		return "write"
	case Refresh:
		return "refresh"
	case Drop:
		return "drop"
	}

	return "unknown"
}

// Detector decides what one sighting means relative to the journey's latest
// stored location. Vendors resend unchanged payloads every cycle; most
// sightings are refreshes.
type Detector struct {
	// StaleAfter bounds how old an unchanged payload may get before the
	// vehicle is treated as having stopped reporting
	StaleAfter time.Duration
}

func (d *Detector) Check(record *sighting.Sighting, latest *model.VehicleLocation, now time.Time) Decision {
	if latest == nil {
		return Write
	}

	// timestamps must move forward within a journey
	if !record.RecordedAt.After(latest.RecordedAt) {
		if record.RecordedAt.Equal(latest.RecordedAt) && bytes.Equal(record.Raw, []byte(latest.RawPayload)) {
			// a frozen feed resends the same record with the same old
			// vendor timestamp forever; it must not keep the vehicle
			// artificially current
			if d.StaleAfter > 0 && now.Sub(record.RecordedAt) > d.StaleAfter {
				return Drop
			}

			return Refresh
		}

		return Drop
	}

	if bytes.Equal(record.Raw, []byte(latest.RawPayload)) {
		if d.StaleAfter > 0 && now.Sub(latest.RecordedAt) > d.StaleAfter {
			return Drop
		}

		return Refresh
	}

	return Write
}
