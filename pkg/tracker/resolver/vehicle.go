package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/buswatch/buswatch/pkg/tracker/store"
	"github.com/buswatch/buswatch/pkg/util"
)

// ErrUnknownOperator means the sighting's operator hint is not in the
// source's mapping table and the source has more than one configured
// operator. The sighting is discarded; ambiguity must never attach a vehicle
// to the wrong fleet.
var ErrUnknownOperator = errors.New("could not determine operator for sighting")

// shortNumericCode matches vendor codes that are plausibly bare fleet numbers
var shortNumericCode = regexp.MustCompile(`^\d{1,6}$`)

// registrationShape matches UK style registration plates once normalised
var registrationShape = regexp.MustCompile(`^[A-Z0-9]{5,8}$`)

// AlertPublisher is the fire-and-forget notification surface. Implementations
// must never return errors into the pipeline.
type AlertPublisher interface {
	FatalSourceError(sourceName string, cause error)
	NewVehicle(vehicle *model.Vehicle)
}

type VehicleResolver struct {
	Store store.VehicleStore

	// Alerts may be nil
	Alerts AlertPublisher
}

// Resolve maps a sighting's vendor identifier onto a durable vehicle,
// creating one on first sighting. Match priority: exact (source, code), then
// registration within the operator's fleet, then fleet number within the
// fleet, then create.
func (r *VehicleResolver) Resolve(ctx context.Context, record *sighting.Sighting, descriptor *source.Descriptor) (*model.Vehicle, bool, error) {
	operatorRef, ok := descriptor.ResolveOperator(record.OperatorHint)
	if !ok {
		return nil, false, ErrUnknownOperator
	}

	vehicle, err := r.Store.GetVehicleBySourceCode(ctx, descriptor.Name, record.VendorVehicleCode)
	if err != nil {
		return nil, false, err
	}
	if vehicle != nil {
		if vehicle.OperatorRef == "" {
			vehicle.OperatorRef = operatorRef
			vehicle.ModificationDateTime = time.Now()

			if err := r.Store.UpsertVehicle(ctx, vehicle); err != nil {
				return nil, false, err
			}
		}

		return vehicle, false, nil
	}

	fleetNumber, fleetCode, registration := parseVendorCode(record.VendorVehicleCode, descriptor.VehicleCodeSeparators)

	// cross-source reconciliation by registration plate
	if registration != "" {
		vehicle, err = r.Store.GetVehicleByRegistration(ctx, operatorRef, registration)
		if err != nil {
			return nil, false, err
		}
		if vehicle != nil {
			return r.adoptVendorCode(ctx, vehicle, descriptor.Name, record.VendorVehicleCode, fleetNumber, fleetCode, registration)
		}
	}

	if fleetNumber != 0 && shortNumericCode.MatchString(record.VendorVehicleCode) {
		vehicle, err = r.Store.GetVehicleByFleetNumber(ctx, operatorRef, fleetNumber)
		if err != nil {
			return nil, false, err
		}
		if vehicle != nil {
			return r.adoptVendorCode(ctx, vehicle, descriptor.Name, record.VendorVehicleCode, fleetNumber, fleetCode, registration)
		}
	}

	now := time.Now()
	vehicle = &model.Vehicle{
		PrimaryIdentifier: fmt.Sprintf(model.VehicleIDFormat, descriptor.Name, record.VendorVehicleCode),

		SourceRef:  descriptor.Name,
		VendorCode: record.VendorVehicleCode,

		FleetCode:    fleetCode,
		FleetNumber:  fleetNumber,
		Registration: registration,

		OperatorRef: operatorRef,

		CreationDateTime:     now,
		ModificationDateTime: now,
	}

	if err := r.Store.UpsertVehicle(ctx, vehicle); err != nil {
		return nil, false, err
	}

	if r.Alerts != nil {
		r.Alerts.NewVehicle(vehicle)
	}

	return vehicle, true, nil
}

// adoptVendorCode handles vendors re-issuing codes: the matched vehicle keeps
// its identity but takes over the sighting's code and derived fields
func (r *VehicleResolver) adoptVendorCode(ctx context.Context, vehicle *model.Vehicle, sourceName string, vendorCode string, fleetNumber int, fleetCode string, registration string) (*model.Vehicle, bool, error) {
	changed := false

	if vehicle.VendorCode != vendorCode || vehicle.SourceRef != sourceName {
		vehicle.VendorCode = vendorCode
		vehicle.SourceRef = sourceName
		changed = true
	}
	if fleetNumber != 0 && vehicle.FleetNumber != fleetNumber {
		vehicle.FleetNumber = fleetNumber
		vehicle.FleetCode = fleetCode
		changed = true
	}
	if registration != "" && vehicle.Registration == "" {
		vehicle.Registration = registration
		changed = true
	}

	if changed {
		vehicle.ModificationDateTime = time.Now()

		if err := r.Store.UpsertVehicle(ctx, vehicle); err != nil {
			return nil, false, err
		}
	}

	return vehicle, false, nil
}

// parseVendorCode splits a vendor code into fleet number and registration
// using the source's separator conventions, eg. "1234_-_YX63LKO"
func parseVendorCode(vendorCode string, separators []string) (int, string, string) {
	if shortNumericCode.MatchString(vendorCode) {
		fleetNumber, _ := strconv.Atoi(vendorCode)
		return fleetNumber, vendorCode, ""
	}

	for _, separator := range separators {
		parts := splitOnce(vendorCode, separator)
		if parts == nil {
			continue
		}

		fleetNumber := 0
		fleetCode := ""
		if shortNumericCode.MatchString(parts[0]) {
			fleetNumber, _ = strconv.Atoi(parts[0])
			fleetCode = parts[0]
		}

		registration := util.NormaliseRegistration(parts[1])
		if !registrationShape.MatchString(registration) {
			registration = ""
		}

		if fleetNumber != 0 || registration != "" {
			return fleetNumber, fleetCode, registration
		}
	}

	candidate := util.NormaliseRegistration(vendorCode)
	if registrationShape.MatchString(candidate) && !shortNumericCode.MatchString(candidate) {
		return 0, "", candidate
	}

	return 0, vendorCode, ""
}

func splitOnce(value string, separator string) []string {
	if separator == "" {
		return nil
	}

	index := strings.Index(value, separator)
	if index <= 0 || index+len(separator) >= len(value) {
		return nil
	}

	return []string{value[:index], value[index+len(separator):]}
}
