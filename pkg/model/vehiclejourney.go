package model

import "time"

const VehicleJourneyIDFormat = "BUSWATCH:JOURNEY:%s:%d"

// VehicleJourney is one continuous trip of one vehicle. At most one journey
// per vehicle is open at a time; a journey becomes immutable once superseded.
type VehicleJourney struct {
	PrimaryIdentifier string `groups:"basic"`

	VehicleRef string `groups:"basic"`

	// ServiceRef is empty when the line could not be matched to a service
	ServiceRef string `groups:"basic"`
	// TripRef is empty when the timetable had no trip within tolerance
	TripRef string `groups:"detailed"`

	RouteLabel      string `groups:"basic"`
	DestinationText string `groups:"basic"`

	StartDateTime time.Time `groups:"basic"`

	Open bool `groups:"internal"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`

	DataSource *DataSource `groups:"internal"`
}
