package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/buswatch/buswatch/pkg/elastic_client"
)

const (
	IdentifyOutcomeMatched         = "matched"
	IdentifyOutcomeUnknownOperator = "unknown-operator"
	IdentifyOutcomeAmbiguousLine   = "ambiguous-line"
	IdentifyOutcomeNoService       = "no-service"
)

type identifyEvent struct {
	Timestamp time.Time `json:"timestamp"`

	Source     string `json:"source"`
	VendorCode string `json:"vendor_code"`
	Line       string `json:"line"`

	Outcome string `json:"outcome"`

	OperatorRef string `json:"operator_ref,omitempty"`
	ServiceRef  string `json:"service_ref,omitempty"`
	VehicleRef  string `json:"vehicle_ref,omitempty"`
}

// RecordIdentifyEvent indexes one resolution outcome into the weekly audit
// index. Fire-and-forget; resolution never waits on Elasticsearch.
func RecordIdentifyEvent(sourceName string, vendorCode string, line string, outcome string, operatorRef string, serviceRef string, vehicleRef string) {
	event := identifyEvent{
		Timestamp: time.Now(),

		Source:     sourceName,
		VendorCode: vendorCode,
		Line:       line,

		Outcome: outcome,

		OperatorRef: operatorRef,
		ServiceRef:  serviceRef,
		VehicleRef:  vehicleRef,
	}

	document, err := json.Marshal(event)
	if err != nil {
		return
	}

	year, week := event.Timestamp.ISOWeek()
	index := fmt.Sprintf("buswatch-identify-events-%d-%d", year, week)

	elastic_client.IndexRequest(index, bytes.NewReader(document))
}
