package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/util"
)

// MemoryStore is an in-memory Store, used by tests and for local development
// without a database
type MemoryStore struct {
	mutex sync.RWMutex

	Vehicles  map[string]*model.Vehicle
	Journeys  map[string]*model.VehicleJourney
	Locations []*model.VehicleLocation
	Sources   map[string]*model.Source
	Operators map[string]*model.Operator
	Services  map[string]*model.Service
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Vehicles:  map[string]*model.Vehicle{},
		Journeys:  map[string]*model.VehicleJourney{},
		Sources:   map[string]*model.Source{},
		Operators: map[string]*model.Operator{},
		Services:  map[string]*model.Service{},
	}
}

func (s *MemoryStore) GetVehicleBySourceCode(ctx context.Context, sourceRef string, vendorCode string) (*model.Vehicle, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, vehicle := range s.Vehicles {
		if vehicle.SourceRef == sourceRef && vehicle.VendorCode == vendorCode {
			return vehicle, nil
		}
	}

	return nil, nil
}

func (s *MemoryStore) GetVehicleByRegistration(ctx context.Context, operatorRef string, registration string) (*model.Vehicle, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, vehicle := range s.Vehicles {
		if vehicle.OperatorRef == operatorRef && vehicle.Registration == registration && registration != "" {
			return vehicle, nil
		}
	}

	return nil, nil
}

func (s *MemoryStore) GetVehicleByFleetNumber(ctx context.Context, operatorRef string, fleetNumber int) (*model.Vehicle, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, vehicle := range s.Vehicles {
		if vehicle.OperatorRef == operatorRef && vehicle.FleetNumber == fleetNumber && fleetNumber != 0 {
			return vehicle, nil
		}
	}

	return nil, nil
}

func (s *MemoryStore) GetVehicle(ctx context.Context, primaryIdentifier string) (*model.Vehicle, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.Vehicles[primaryIdentifier], nil
}

func (s *MemoryStore) UpsertVehicle(ctx context.Context, vehicle *model.Vehicle) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Vehicles[vehicle.PrimaryIdentifier] = vehicle
	return nil
}

func (s *MemoryStore) GetJourney(ctx context.Context, journeyRef string) (*model.VehicleJourney, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.Journeys[journeyRef], nil
}

func (s *MemoryStore) GetOpenJourney(ctx context.Context, vehicleRef string) (*model.VehicleJourney, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, journey := range s.Journeys {
		if journey.VehicleRef == vehicleRef && journey.Open {
			return journey, nil
		}
	}

	return nil, nil
}

func (s *MemoryStore) InsertJourney(ctx context.Context, journey *model.VehicleJourney) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Journeys[journey.PrimaryIdentifier] = journey
	return nil
}

func (s *MemoryStore) CloseJourney(ctx context.Context, journeyRef string, at time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if journey, ok := s.Journeys[journeyRef]; ok {
		journey.Open = false
		journey.ModificationDateTime = at
	}

	return nil
}

func (s *MemoryStore) InsertLocation(ctx context.Context, location *model.VehicleLocation) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, existing := range s.Locations {
		if existing.JourneyRef == location.JourneyRef {
			existing.Current = false
		}
	}

	s.Locations = append(s.Locations, location)
	return nil
}

func (s *MemoryStore) GetLatestLocationForJourney(ctx context.Context, journeyRef string) (*model.VehicleLocation, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var latest *model.VehicleLocation
	for _, location := range s.Locations {
		if location.JourneyRef != journeyRef {
			continue
		}
		if latest == nil || location.RecordedAt.After(latest.RecordedAt) {
			latest = location
		}
	}

	return latest, nil
}

func (s *MemoryStore) GetLatestLocationPerVehicle(ctx context.Context) ([]*model.VehicleLocation, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	latestPerVehicle := map[string]*model.VehicleLocation{}
	for _, location := range s.Locations {
		existing := latestPerVehicle[location.VehicleRef]
		if existing == nil || location.RecordedAt.After(existing.RecordedAt) {
			latestPerVehicle[location.VehicleRef] = location
		}
	}

	var locations []*model.VehicleLocation
	for _, key := range util.SortedKeys(latestPerVehicle) {
		locations = append(locations, latestPerVehicle[key])
	}

	return locations, nil
}

func (s *MemoryStore) MarkSourceLocationsStale(ctx context.Context, sourceRef string, refreshedVehicleRefs []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, location := range s.Locations {
		if location.SourceRef != sourceRef || !location.Current {
			continue
		}
		if !util.ContainsString(refreshedVehicleRefs, location.VehicleRef) {
			location.Current = false
		}
	}

	return nil
}

func (s *MemoryStore) GetSource(ctx context.Context, name string) (*model.Source, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.Sources[name], nil
}

func (s *MemoryStore) UpsertSource(ctx context.Context, source *model.Source) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Sources[source.Name] = source
	return nil
}

func (s *MemoryStore) GetOperators(ctx context.Context, operatorRefs []string) ([]*model.Operator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var operators []*model.Operator
	for _, operator := range s.Operators {
		if util.ContainsString(operatorRefs, operator.PrimaryIdentifier) {
			operators = append(operators, operator)
			continue
		}

		for _, other := range operator.OtherIdentifiers {
			if util.ContainsString(operatorRefs, other) {
				operators = append(operators, operator)
				break
			}
		}
	}

	sort.Slice(operators, func(i, j int) bool {
		return operators[i].PrimaryIdentifier < operators[j].PrimaryIdentifier
	})

	return operators, nil
}

func (s *MemoryStore) GetServicesForOperators(ctx context.Context, operatorRefs []string) ([]*model.Service, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var services []*model.Service
	for _, service := range s.Services {
		if util.ContainsString(operatorRefs, service.OperatorRef) {
			services = append(services, service)
		}
	}

	sort.Slice(services, func(i, j int) bool {
		return services[i].PrimaryIdentifier < services[j].PrimaryIdentifier
	})

	return services, nil
}
