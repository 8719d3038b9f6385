package model

import "time"

const VehicleIDFormat = "BUSWATCH:VEHICLE:%s:%s"

// Vehicle is the durable record of a physical bus. Within one source the
// vendor code is unique; the same physical vehicle seen by two sources gets
// two records unless registration or fleet number matching reconciles them.
type Vehicle struct {
	PrimaryIdentifier string `groups:"basic"`

	SourceRef  string `groups:"internal"`
	VendorCode string `groups:"basic"`

	FleetCode    string `groups:"basic"`
	FleetNumber  int    `groups:"basic"`
	Registration string `groups:"basic"`
	FriendlyName string `groups:"basic"`

	// OperatorRef is resolved lazily and may be corrected once a journey
	// resolves to a service with a definitive operator
	OperatorRef string `groups:"basic"`

	LatestJourneyRef string `groups:"detailed"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`

	DataSource *DataSource `groups:"internal"`
}
