package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/store"
)

// RefData is the reference-data snapshot the resolvers work against for one
// poll cycle. It is rebuilt at the start of every cycle; carrying a snapshot
// across cycles would let withdrawn services keep matching.
type RefData struct {
	// Operators keyed by every identifier they are known under
	Operators map[string]*model.Operator
	Services  []*model.Service

	LoadedAt time.Time
}

func LoadRefData(ctx context.Context, referenceStore store.ReferenceStore, operatorRefs []string) (*RefData, error) {
	operators, err := referenceStore.GetOperators(ctx, operatorRefs)
	if err != nil {
		return nil, err
	}

	services, err := referenceStore.GetServicesForOperators(ctx, operatorRefs)
	if err != nil {
		return nil, err
	}

	refData := &RefData{
		Operators: map[string]*model.Operator{},
		Services:  services,
		LoadedAt:  time.Now(),
	}

	for _, operator := range operators {
		refData.Operators[operator.PrimaryIdentifier] = operator
		for _, identifier := range operator.OtherIdentifiers {
			refData.Operators[identifier] = operator
		}
	}

	return refData, nil
}

func (r *RefData) Operator(operatorRef string) *model.Operator {
	return r.Operators[operatorRef]
}

// ServicesMatching returns the operator's current services whose name matches
// the line label, case-insensitively
func (r *RefData) ServicesMatching(operatorRef string, lineLabel string, now time.Time) []*model.Service {
	var matched []*model.Service

	for _, service := range r.Services {
		if service.OperatorRef != operatorRef {
			continue
		}
		if !service.Current(now) {
			continue
		}
		if strings.EqualFold(service.ServiceName, lineLabel) {
			matched = append(matched, service)
		}
	}

	return matched
}
