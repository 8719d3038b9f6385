package sighting

import (
	"encoding/json"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
)

// Sighting is one normalised vendor observation of a vehicle. Every protocol
// adapter reduces its wire format to this shape; nothing downstream of an
// adapter ever touches vendor-specific keys directly.
type Sighting struct {
	VendorVehicleCode string
	LineLabel         string

	// OperatorHint is the vendor's operator code, may be empty
	OperatorHint string

	DestinationText string

	Location model.Location

	// RecordedAt is always on the engine's reference clock; adapters
	// substitute the poll time when the feed omits a timestamp
	RecordedAt time.Time

	Bearing      *float64
	SpeedKPH     *float64
	DelaySeconds *int

	// Raw is the full original payload, kept for duplicate suppression
	// and downstream debugging
	Raw json.RawMessage

	// Extra carries vendor passthrough fields that some source's special
	// case rules may want to inspect
	Extra map[string]string
}
