package timetable

import (
	"context"
	"time"

	"github.com/buswatch/buswatch/pkg/database"
	"go.mongodb.org/mongo-driver/bson"
)

// departureTolerance is how far a scheduled departure may sit from the
// sighting's implied departure time and still be considered the same trip
const departureTolerance = 10 * time.Minute

// TripFinder asks the external timetable component for a scheduled trip
// matching a service on a date around a departure time. Absence of a match is
// (empty, nil), never an error.
type TripFinder interface {
	FindTrip(ctx context.Context, serviceRef string, date time.Time, approxDeparture time.Time) (string, error)
}

// Trip is the slim projection of the timetable's scheduled trip records
type Trip struct {
	PrimaryIdentifier string

	ServiceRef string

	// DepartureTime is a wall clock value, "15:04"
	DepartureTime string

	DaysOfWeek []string
}

// MongoTripFinder reads the trips the timetable engine maintains in the
// shared database
type MongoTripFinder struct{}

func NewMongoTripFinder() *MongoTripFinder {
	return &MongoTripFinder{}
}

func (f *MongoTripFinder) FindTrip(ctx context.Context, serviceRef string, date time.Time, approxDeparture time.Time) (string, error) {
	collection := database.GetCollection("trips")

	cursor, err := collection.Find(ctx, bson.M{"serviceref": serviceRef})
	if err != nil {
		return "", err
	}

	var trips []*Trip
	if err := cursor.All(ctx, &trips); err != nil {
		return "", err
	}

	return matchTrip(trips, date, approxDeparture), nil
}

func matchTrip(trips []*Trip, date time.Time, approxDeparture time.Time) string {
	weekday := date.Weekday().String()
	approxMinutes := approxDeparture.Hour()*60 + approxDeparture.Minute()

	bestRef := ""
	bestDelta := int(departureTolerance.Minutes()) + 1

	for _, trip := range trips {
		if len(trip.DaysOfWeek) > 0 && !containsDay(trip.DaysOfWeek, weekday) {
			continue
		}

		departure, err := time.Parse("15:04", trip.DepartureTime)
		if err != nil {
			continue
		}

		tripMinutes := departure.Hour()*60 + departure.Minute()
		delta := approxMinutes - tripMinutes
		if delta < 0 {
			delta = -delta
		}

		if delta < bestDelta {
			bestDelta = delta
			bestRef = trip.PrimaryIdentifier
		}
	}

	return bestRef
}

func containsDay(days []string, day string) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}

	return false
}
