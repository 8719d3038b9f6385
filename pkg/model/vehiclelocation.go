package model

import "time"

const VehicleLocationIDFormat = "BUSWATCH:LOCATION:%s:%d"

// VehicleLocation is one observed position tied to a journey. Write-once per
// (journey, timestamp); only the Current flag transitions after creation.
type VehicleLocation struct {
	PrimaryIdentifier string `groups:"internal"`

	JourneyRef string `groups:"basic"`
	VehicleRef string `groups:"basic"`
	SourceRef  string `groups:"internal"`

	RecordedAt time.Time `groups:"basic"`

	Location Location `groups:"basic"`

	Bearing      *float64 `groups:"basic"`
	DelaySeconds *int     `groups:"basic"`

	Current bool `groups:"basic"`

	// RawPayload keeps the vendor record as received, for downstream
	// debugging and duplicate suppression
	RawPayload string `groups:"internal"`

	CreationDateTime time.Time `groups:"detailed"`
}
