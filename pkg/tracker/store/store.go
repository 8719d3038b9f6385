package store

import (
	"context"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
)

// Lookups that miss return (nil, nil); callers treat absence as a normal
// outcome, not an error.

type VehicleStore interface {
	GetVehicleBySourceCode(ctx context.Context, sourceRef string, vendorCode string) (*model.Vehicle, error)
	GetVehicleByRegistration(ctx context.Context, operatorRef string, registration string) (*model.Vehicle, error)
	GetVehicleByFleetNumber(ctx context.Context, operatorRef string, fleetNumber int) (*model.Vehicle, error)
	UpsertVehicle(ctx context.Context, vehicle *model.Vehicle) error
}

type JourneyStore interface {
	GetJourney(ctx context.Context, journeyRef string) (*model.VehicleJourney, error)
	GetOpenJourney(ctx context.Context, vehicleRef string) (*model.VehicleJourney, error)
	InsertJourney(ctx context.Context, journey *model.VehicleJourney) error
	CloseJourney(ctx context.Context, journeyRef string, at time.Time) error
}

type LocationStore interface {
	// InsertLocation supersedes the journey's previous current location
	InsertLocation(ctx context.Context, location *model.VehicleLocation) error
	GetLatestLocationForJourney(ctx context.Context, journeyRef string) (*model.VehicleLocation, error)
	// GetLatestLocationPerVehicle replays the newest location of every
	// vehicle, for cache rebuilds
	GetLatestLocationPerVehicle(ctx context.Context) ([]*model.VehicleLocation, error)
	// MarkSourceLocationsStale clears the current flag on a source's rows
	// whose vehicle was not refreshed in the cycle just completed
	MarkSourceLocationsStale(ctx context.Context, sourceRef string, refreshedVehicleRefs []string) error
}

type SourceStore interface {
	GetSource(ctx context.Context, name string) (*model.Source, error)
	UpsertSource(ctx context.Context, source *model.Source) error
}

type ReferenceStore interface {
	GetOperators(ctx context.Context, operatorRefs []string) ([]*model.Operator, error)
	GetServicesForOperators(ctx context.Context, operatorRefs []string) ([]*model.Service, error)
	GetVehicle(ctx context.Context, primaryIdentifier string) (*model.Vehicle, error)
}

// Store is the full durable surface the tracker needs
type Store interface {
	VehicleStore
	JourneyStore
	LocationStore
	SourceStore
	ReferenceStore
}
