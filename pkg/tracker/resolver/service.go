package resolver

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/rs/zerolog/log"
)

// lineLabelPrefix strips a letter prefix off labels like "CR501" so they can
// fall back to matching the bare "501"
var lineLabelPrefix = regexp.MustCompile(`^\D+(\d+)$`)

const serviceCacheMiss = "N/A"

// ServiceOutcome is what service resolution concluded for one sighting.
// Ambiguity is a degraded outcome, never an error: the journey simply carries
// no service.
type ServiceOutcome struct {
	ServiceRef string

	Candidates int
	Ambiguous  bool
}

type ServiceResolver struct {
	// Cache remembers unambiguous (source, operator, line) resolutions
	// across cycles so long-running trips skip the lookup; may be nil
	Cache *cache.Cache[string]
}

// Resolve maps a sighting's line label to one of the operator's current
// services. More than one match is narrowed by route geometry containment,
// then by the source's per-vendor rule table.
func (r *ServiceResolver) Resolve(ctx context.Context, record *sighting.Sighting, operatorRef string, descriptor *source.Descriptor, refData *RefData) ServiceOutcome {
	now := record.RecordedAt
	if now.IsZero() {
		now = time.Now()
	}

	candidates := refData.ServicesMatching(operatorRef, record.LineLabel, now)

	if len(candidates) == 0 {
		if match := lineLabelPrefix.FindStringSubmatch(record.LineLabel); len(match) == 2 {
			candidates = refData.ServicesMatching(operatorRef, match[1], now)
		}
	}

	cacheKey := fmt.Sprintf("service-resolution:%s:%s:%s", descriptor.Name, operatorRef, record.LineLabel)

	// a memo is only trusted while it agrees with this cycle's reference
	// data: a withdrawn service must stop matching immediately, and a newly
	// registered service must start
	if r.Cache != nil {
		if cached, err := r.Cache.Get(ctx, cacheKey); err == nil && cached != "" {
			if cached == serviceCacheMiss && len(candidates) == 0 {
				return ServiceOutcome{}
			}

			for _, service := range candidates {
				if service.PrimaryIdentifier == cached {
					return ServiceOutcome{ServiceRef: cached, Candidates: len(candidates)}
				}
			}
		}
	}

	switch len(candidates) {
	case 0:
		log.Debug().
			Str("source", descriptor.Name).
			Str("operator", operatorRef).
			Str("line", record.LineLabel).
			Msg("No service matches line label")

		r.remember(ctx, cacheKey, serviceCacheMiss)
		return ServiceOutcome{}
	case 1:
		r.remember(ctx, cacheKey, candidates[0].PrimaryIdentifier)
		return ServiceOutcome{ServiceRef: candidates[0].PrimaryIdentifier, Candidates: 1}
	}

	total := len(candidates)

	// geometry containment first
	var contained []*model.Service
	for _, service := range candidates {
		if service.ContainsLocation(&record.Location) {
			contained = append(contained, service)
		}
	}

	if len(contained) == 1 {
		// geometry depends on where the vehicle happens to be, so this
		// resolution is not cached
		return ServiceOutcome{ServiceRef: contained[0].PrimaryIdentifier, Candidates: total}
	}
	if len(contained) > 1 {
		candidates = contained
	}

	// then the curated per-vendor special cases
	env := source.RuleEnv{
		Line:        record.LineLabel,
		Operator:    operatorRef,
		VehicleCode: record.VendorVehicleCode,
		Destination: record.DestinationText,
	}
	for _, rule := range descriptor.ServiceRules {
		if !rule.Matches(env) {
			continue
		}

		for _, service := range candidates {
			if service.PrimaryIdentifier == rule.Service {
				r.remember(ctx, cacheKey, service.PrimaryIdentifier)
				return ServiceOutcome{ServiceRef: service.PrimaryIdentifier, Candidates: total}
			}
		}
	}

	log.Warn().
		Str("source", descriptor.Name).
		Str("operator", operatorRef).
		Str("line", record.LineLabel).
		Int("candidates", total).
		Msg("Line label is ambiguous, leaving service unresolved")

	return ServiceOutcome{Candidates: total, Ambiguous: true}
}

func (r *ServiceResolver) remember(ctx context.Context, cacheKey string, value string) {
	if r.Cache == nil {
		return
	}

	r.Cache.Set(ctx, cacheKey, value)
}
