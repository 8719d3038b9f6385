package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/adapter"
	"github.com/buswatch/buswatch/pkg/tracker/detector"
	"github.com/buswatch/buswatch/pkg/tracker/resolver"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/buswatch/buswatch/pkg/tracker/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mutex  sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, duration time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.sleeps = append(c.sleeps, duration)
	c.now = c.now.Add(duration)
}

func (c *fakeClock) sleptFor(duration time.Duration) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, slept := range c.sleeps {
		if slept == duration {
			return true
		}
	}

	return false
}

// scriptedAdapter plays back a fixed sequence of poll results, then cancels
// the worker's context
type scriptedAdapter struct {
	steps  []func() ([]sighting.Sighting, error)
	calls  int
	cancel context.CancelFunc
}

func (a *scriptedAdapter) Fetch(ctx context.Context, session *adapter.Session) ([]sighting.Sighting, error) {
	if a.calls >= len(a.steps) {
		a.cancel()
		return nil, nil
	}

	step := a.steps[a.calls]
	a.calls++
	return step()
}

type alertRecorder struct {
	mutex       sync.Mutex
	fatals      []string
	newVehicles []string
}

func (r *alertRecorder) FatalSourceError(sourceName string, cause error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.fatals = append(r.fatals, sourceName)
}

func (r *alertRecorder) NewVehicle(vehicle *model.Vehicle) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.newVehicles = append(r.newVehicles, vehicle.PrimaryIdentifier)
}

func testDescriptor() *source.Descriptor {
	return &source.Descriptor{
		Name:      "acme-live",
		Endpoint:  "https://vendor.example.com/feed",
		Transport: source.TransportJSONFeed,
		Operators: []string{"BUSWATCH:OPERATOR:ACME"},
	}
}

func testWorker(descriptor *source.Descriptor, memoryStore *store.MemoryStore, clock Clock, feedAdapter adapter.Adapter, alerts resolver.AlertPublisher) *Worker {
	pipeline := &Pipeline{
		Store: memoryStore,

		Vehicles: &resolver.VehicleResolver{Store: memoryStore, Alerts: alerts},
		Services: &resolver.ServiceResolver{},
		Journeys: &resolver.JourneyResolver{Journeys: memoryStore, Locations: memoryStore},
		Detector: &detector.Detector{StaleAfter: descriptor.StaleAfterDuration()},
	}

	return &Worker{
		Descriptor: descriptor,

		Store:    memoryStore,
		Pipeline: pipeline,

		Alerts: alerts,

		Clock:   clock,
		Adapter: feedAdapter,
	}
}

func testSighting(code string, recordedAt time.Time) sighting.Sighting {
	raw, _ := json.Marshal(map[string]interface{}{
		"id":      code,
		"updated": recordedAt.Format(time.RFC3339),
	})

	return sighting.Sighting{
		VendorVehicleCode: code,
		LineLabel:         "36",
		Location:          model.NewPoint(-1.54, 53.79),
		RecordedAt:        recordedAt,
		Raw:               raw,
	}
}

func TestWorkerWritesBatchAndRecordsPoll(t *testing.T) {
	memoryStore := store.NewMemoryStore()
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedAdapter := &scriptedAdapter{
		cancel: cancel,
		steps: []func() ([]sighting.Sighting, error){
			func() ([]sighting.Sighting, error) {
				return []sighting.Sighting{testSighting("3635", clock.Now())}, nil
			},
		},
	}

	worker := testWorker(testDescriptor(), memoryStore, clock, feedAdapter, nil)
	require.NoError(t, worker.Run(ctx))

	vehicle, err := memoryStore.GetVehicleBySourceCode(context.Background(), "acme-live", "3635")
	require.NoError(t, err)
	require.NotNil(t, vehicle)

	assert.Len(t, memoryStore.Locations, 1)
	assert.True(t, memoryStore.Locations[0].Current)

	sourceRow, err := memoryStore.GetSource(context.Background(), "acme-live")
	require.NoError(t, err)
	require.NotNil(t, sourceRow)
	assert.False(t, sourceRow.LastSuccessfulPoll.IsZero())
}

func TestWorkerBacksOffOnTransientError(t *testing.T) {
	memoryStore := store.NewMemoryStore()
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedAdapter := &scriptedAdapter{
		cancel: cancel,
		steps: []func() ([]sighting.Sighting, error){
			func() ([]sighting.Sighting, error) {
				return nil, adapter.Transient(errors.New("vendor returned status 503"))
			},
			func() ([]sighting.Sighting, error) {
				return []sighting.Sighting{testSighting("3635", clock.Now())}, nil
			},
		},
	}

	descriptor := testDescriptor()
	descriptor.BackoffInterval = "PT2M"

	worker := testWorker(descriptor, memoryStore, clock, feedAdapter, nil)
	require.NoError(t, worker.Run(ctx))

	// the failed cycle slept the backoff interval, then recovered
	assert.True(t, clock.sleptFor(2*time.Minute))
	assert.Len(t, memoryStore.Locations, 1)
}

func TestWorkerHaltsOnFatalError(t *testing.T) {
	memoryStore := store.NewMemoryStore()
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerts := &alertRecorder{}

	feedAdapter := &scriptedAdapter{
		cancel: cancel,
		steps: []func() ([]sighting.Sighting, error){
			func() ([]sighting.Sighting, error) {
				return nil, adapter.Fatal(errors.New("vendor rejected credentials with status 401"))
			},
			func() ([]sighting.Sighting, error) {
				t.Fatal("worker polled again after a fatal error")
				return nil, nil
			},
		},
	}

	worker := testWorker(testDescriptor(), memoryStore, clock, feedAdapter, alerts)

	err := worker.Run(ctx)
	require.Error(t, err)
	assert.True(t, adapter.IsFatal(err))

	assert.Equal(t, []string{"acme-live"}, alerts.fatals)
	assert.Equal(t, 1, feedAdapter.calls)
}

func TestWorkerMarksUnreportedVehiclesStale(t *testing.T) {
	memoryStore := store.NewMemoryStore()
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedAdapter := &scriptedAdapter{
		cancel: cancel,
		steps: []func() ([]sighting.Sighting, error){
			func() ([]sighting.Sighting, error) {
				return []sighting.Sighting{
					testSighting("3635", clock.Now()),
					testSighting("3636", clock.Now()),
				}, nil
			},
			func() ([]sighting.Sighting, error) {
				// 3636 has gone quiet
				return []sighting.Sighting{testSighting("3635", clock.Now())}, nil
			},
		},
	}

	worker := testWorker(testDescriptor(), memoryStore, clock, feedAdapter, nil)
	require.NoError(t, worker.Run(ctx))

	currentByVehicle := map[string]bool{}
	for _, location := range memoryStore.Locations {
		if location.Current {
			currentByVehicle[location.VehicleRef] = true
		}
	}

	assert.True(t, currentByVehicle["BUSWATCH:VEHICLE:acme-live:3635"])
	assert.False(t, currentByVehicle["BUSWATCH:VEHICLE:acme-live:3636"])
}

func TestWorkerPersistsAdapterCursor(t *testing.T) {
	memoryStore := store.NewMemoryStore()
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedAdapter := &scriptedAdapter{cancel: cancel}

	descriptor := testDescriptor()
	worker := testWorker(descriptor, memoryStore, clock, feedAdapter, nil)

	// the adapter stores cursors in the session settings; seed one through
	// the descriptor to prove it round-trips into the durable row
	descriptor.Settings = map[string]string{"cursor": "abc123"}

	feedAdapter.steps = []func() ([]sighting.Sighting, error){
		func() ([]sighting.Sighting, error) { return nil, nil },
	}

	require.NoError(t, worker.Run(ctx))

	sourceRow, err := memoryStore.GetSource(context.Background(), "acme-live")
	require.NoError(t, err)
	require.NotNil(t, sourceRow)
	assert.Equal(t, "abc123", sourceRow.Settings["cursor"])
}

func TestWorkerStopsOnCancelledContext(t *testing.T) {
	memoryStore := store.NewMemoryStore()
	clock := newFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	feedAdapter := &scriptedAdapter{
		cancel: func() {},
		steps: []func() ([]sighting.Sighting, error){
			func() ([]sighting.Sighting, error) {
				t.Fatal("worker polled a cancelled source")
				return nil, nil
			},
		},
	}

	worker := testWorker(testDescriptor(), memoryStore, clock, feedAdapter, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
