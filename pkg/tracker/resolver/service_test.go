package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/eko/gocache/lib/v4/cache"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOperator = "BUSWATCH:OPERATOR:ACME"

func refDataWith(services ...*model.Service) *RefData {
	return &RefData{
		Operators: map[string]*model.Operator{
			testOperator: {PrimaryIdentifier: testOperator},
		},
		Services: services,
		LoadedAt: time.Now(),
	}
}

func testService(identifier string, name string, track ...model.Location) *model.Service {
	service := &model.Service{
		PrimaryIdentifier: identifier,
		ServiceName:       name,
		OperatorRef:       testOperator,
	}

	if len(track) > 0 {
		service.Routes = []model.Route{{Track: track}}
	}

	return service
}

func TestResolveUnambiguousLine(t *testing.T) {
	r := &ServiceResolver{}

	refData := refDataWith(testService("BUSWATCH:SERVICE:ACME:36", "36"))

	record := &sighting.Sighting{LineLabel: "36", RecordedAt: time.Now()}
	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)

	assert.Equal(t, "BUSWATCH:SERVICE:ACME:36", outcome.ServiceRef)
	assert.False(t, outcome.Ambiguous)
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	r := &ServiceResolver{}

	refData := refDataWith(testService("BUSWATCH:SERVICE:ACME:X1", "X1"))

	record := &sighting.Sighting{LineLabel: "x1", RecordedAt: time.Now()}
	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)

	assert.Equal(t, "BUSWATCH:SERVICE:ACME:X1", outcome.ServiceRef)
}

func TestResolveStripsVendorLinePrefix(t *testing.T) {
	r := &ServiceResolver{}

	refData := refDataWith(testService("BUSWATCH:SERVICE:ACME:501", "501"))

	record := &sighting.Sighting{LineLabel: "CR501", RecordedAt: time.Now()}
	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)

	assert.Equal(t, "BUSWATCH:SERVICE:ACME:501", outcome.ServiceRef)
}

func TestResolveNoMatch(t *testing.T) {
	r := &ServiceResolver{}

	refData := refDataWith(testService("BUSWATCH:SERVICE:ACME:36", "36"))

	record := &sighting.Sighting{LineLabel: "99", RecordedAt: time.Now()}
	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)

	assert.Empty(t, outcome.ServiceRef)
	assert.False(t, outcome.Ambiguous)
}

func TestResolveExcludesWithdrawnServices(t *testing.T) {
	r := &ServiceResolver{}

	withdrawn := testService("BUSWATCH:SERVICE:ACME:36-OLD", "36")
	withdrawn.EndDate = time.Now().AddDate(0, -1, 0)
	replacement := testService("BUSWATCH:SERVICE:ACME:36", "36")

	refData := refDataWith(withdrawn, replacement)

	record := &sighting.Sighting{LineLabel: "36", RecordedAt: time.Now()}
	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)

	assert.Equal(t, "BUSWATCH:SERVICE:ACME:36", outcome.ServiceRef)
}

func TestResolveDisambiguatesByGeometry(t *testing.T) {
	r := &ServiceResolver{}

	// two same-named services with disjoint corridors
	north := testService("BUSWATCH:SERVICE:ACME:1-NORTH", "1",
		model.NewPoint(-1.5, 53.8), model.NewPoint(-1.5, 53.9))
	south := testService("BUSWATCH:SERVICE:ACME:1-SOUTH", "1",
		model.NewPoint(-1.5, 53.0), model.NewPoint(-1.5, 53.1))

	refData := refDataWith(north, south)

	record := &sighting.Sighting{
		LineLabel:  "1",
		Location:   model.NewPoint(-1.5, 53.85),
		RecordedAt: time.Now(),
	}
	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)

	assert.Equal(t, "BUSWATCH:SERVICE:ACME:1-NORTH", outcome.ServiceRef)
	assert.Equal(t, 2, outcome.Candidates)
}

func TestResolveDisambiguatesByRule(t *testing.T) {
	r := &ServiceResolver{}

	first := testService("BUSWATCH:SERVICE:ACME:7-CITY", "7")
	second := testService("BUSWATCH:SERVICE:ACME:7-COAST", "7")

	refData := refDataWith(first, second)

	descriptor := singleOperatorDescriptor()
	rule := &source.ServiceRule{
		If:      `destination == "Seaside"`,
		Service: "BUSWATCH:SERVICE:ACME:7-COAST",
	}
	require.NoError(t, rule.Compile())
	descriptor.ServiceRules = []*source.ServiceRule{rule}

	record := &sighting.Sighting{
		LineLabel:       "7",
		DestinationText: "Seaside",
		Location:        model.NewPoint(-1.5, 53.85),
		RecordedAt:      time.Now(),
	}
	outcome := r.Resolve(context.Background(), record, testOperator, descriptor, refData)

	assert.Equal(t, "BUSWATCH:SERVICE:ACME:7-COAST", outcome.ServiceRef)
}

func testServiceCache(t *testing.T) *cache.Cache[string] {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return cache.New[string](redisstore.NewRedis(client))
}

func TestResolveCacheStopsMatchingWithdrawnService(t *testing.T) {
	r := &ServiceResolver{Cache: testServiceCache(t)}

	record := &sighting.Sighting{LineLabel: "36", RecordedAt: time.Now()}

	refData := refDataWith(testService("BUSWATCH:SERVICE:ACME:36", "36"))
	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)
	require.Equal(t, "BUSWATCH:SERVICE:ACME:36", outcome.ServiceRef)

	// the service is withdrawn in a later cycle's reference data; the
	// memo from the earlier cycle must not keep it matching
	withdrawn := testService("BUSWATCH:SERVICE:ACME:36", "36")
	withdrawn.EndDate = time.Now().AddDate(0, -1, 0)

	outcome = r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refDataWith(withdrawn))
	assert.Empty(t, outcome.ServiceRef)
}

func TestResolveCacheMissRechecksNewServices(t *testing.T) {
	r := &ServiceResolver{Cache: testServiceCache(t)}

	record := &sighting.Sighting{LineLabel: "36", RecordedAt: time.Now()}

	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refDataWith())
	require.Empty(t, outcome.ServiceRef)

	// the service registered since the miss was remembered
	refData := refDataWith(testService("BUSWATCH:SERVICE:ACME:36", "36"))
	outcome = r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)
	assert.Equal(t, "BUSWATCH:SERVICE:ACME:36", outcome.ServiceRef)
}

func TestResolveCacheReusesCurrentResolution(t *testing.T) {
	r := &ServiceResolver{Cache: testServiceCache(t)}

	record := &sighting.Sighting{LineLabel: "36", RecordedAt: time.Now()}
	refData := refDataWith(testService("BUSWATCH:SERVICE:ACME:36", "36"))

	first := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)
	second := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)

	assert.Equal(t, first.ServiceRef, second.ServiceRef)
}

func TestResolveAmbiguityLeavesServiceUnset(t *testing.T) {
	r := &ServiceResolver{}

	refData := refDataWith(
		testService("BUSWATCH:SERVICE:ACME:7-CITY", "7"),
		testService("BUSWATCH:SERVICE:ACME:7-COAST", "7"),
	)

	record := &sighting.Sighting{
		LineLabel:  "7",
		Location:   model.NewPoint(-1.5, 53.85),
		RecordedAt: time.Now(),
	}
	outcome := r.Resolve(context.Background(), record, testOperator, singleOperatorDescriptor(), refData)

	assert.Empty(t, outcome.ServiceRef)
	assert.True(t, outcome.Ambiguous)
	assert.Equal(t, 2, outcome.Candidates)
}
