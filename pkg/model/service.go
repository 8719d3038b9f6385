package model

import "time"

const ServiceIDFormat = "BUSWATCH:SERVICE:%s:%s"

// geometryToleranceDegrees is roughly 250m at UK latitudes. Route geometry is
// vendor supplied polylines so containment is a corridor check, not exact.
const geometryToleranceDegrees = 0.0025

type Service struct {
	PrimaryIdentifier string `groups:"basic"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`

	DataSource *DataSource `groups:"internal"`

	ServiceName string `groups:"basic"`

	OperatorRef string `groups:"basic"`

	StartDate time.Time `groups:"detailed"`
	EndDate   time.Time `groups:"detailed"`

	Routes []Route `groups:"detailed"`
}

type Route struct {
	Description string     `groups:"detailed"`
	Track       []Location `groups:"internal"`
}

// Current reports whether the service has not been withdrawn as of now
func (s *Service) Current(now time.Time) bool {
	if !s.EndDate.IsZero() && s.EndDate.Before(now) {
		return false
	}
	return true
}

// ContainsLocation reports whether the location lies along any of the
// service's published route geometries
func (s *Service) ContainsLocation(location *Location) bool {
	for _, route := range s.Routes {
		for i := 0; i < len(route.Track)-1; i++ {
			if location.DistanceFromLine(route.Track[i], route.Track[i+1]) <= geometryToleranceDegrees {
				return true
			}
		}
	}

	return false
}
