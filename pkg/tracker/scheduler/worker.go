package scheduler

import (
	"context"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/adapter"
	"github.com/buswatch/buswatch/pkg/tracker/resolver"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/buswatch/buswatch/pkg/tracker/store"
	"github.com/rs/zerolog/log"
)

// refDataMaxAge is how long a streaming worker keeps using one reference-data
// snapshot before reloading. Polling workers reload every cycle.
const refDataMaxAge = 15 * time.Minute

// Worker owns one source end to end: fetching, the pipeline, staleness
// housekeeping and the durable source row. Workers share nothing but the
// store and cache, so one broken feed can never stall another.
type Worker struct {
	Descriptor *source.Descriptor

	Store    store.Store
	Pipeline *Pipeline

	// Alerts may be nil
	Alerts resolver.AlertPublisher

	Clock Clock

	// Adapter overrides the transport-derived adapter, for tests
	Adapter adapter.Adapter
}

// Run polls the source until the context is cancelled or a fatal error halts
// it. Transient failures back off and retry forever; a halt requires operator
// intervention, so it raises an alert and returns the error.
func (w *Worker) Run(ctx context.Context) error {
	sourceRow, err := w.loadSourceRow(ctx)
	if err != nil {
		return err
	}

	session := adapter.NewSession(w.Descriptor, sourceRow.Settings)

	feedAdapter := w.Adapter
	if feedAdapter == nil {
		feedAdapter, err = adapter.New(w.Descriptor.Transport)
		if err != nil {
			return w.halt(err)
		}
	}

	if streamer, ok := feedAdapter.(adapter.StreamingAdapter); ok {
		return w.runStream(ctx, streamer, session, sourceRow)
	}

	return w.runPolling(ctx, feedAdapter, session, sourceRow)
}

func (w *Worker) runPolling(ctx context.Context, feedAdapter adapter.Adapter, session *adapter.Session, sourceRow *model.Source) error {
	pollInterval := w.Descriptor.PollIntervalDuration()
	backoffInterval := w.Descriptor.BackoffIntervalDuration()

	for {
		if ctx.Err() != nil {
			return nil
		}

		startTime := w.Clock.Now()

		refData, err := resolver.LoadRefData(ctx, w.Store, w.Descriptor.Operators)
		if err != nil {
			log.Error().Err(err).Str("source", w.Descriptor.Name).Msg("Failed to load reference data")
			w.Clock.Sleep(ctx, backoffInterval)
			continue
		}

		batch, err := feedAdapter.Fetch(ctx, session)
		if err != nil {
			if adapter.IsFatal(err) {
				return w.halt(err)
			}

			log.Warn().Err(err).Str("source", w.Descriptor.Name).Msg("Poll failed, backing off")
			w.Clock.Sleep(ctx, backoffInterval)
			continue
		}

		result, err := w.Pipeline.ProcessBatch(ctx, w.Descriptor, refData, batch)
		if err != nil {
			log.Error().Err(err).Str("source", w.Descriptor.Name).Msg("Batch processing failed, backing off")
			w.Clock.Sleep(ctx, backoffInterval)
			continue
		}

		w.housekeeping(ctx, session, sourceRow, result)

		log.Info().
			Str("source", w.Descriptor.Name).
			Int("sightings", len(batch)).
			Int("written", result.Written).
			Int("refreshed", result.Refreshed).
			Int("dropped", result.Dropped).
			Int("discarded", result.Discarded).
			Int("newVehicles", result.NewVehicles).
			Int("newJourneys", result.NewJourneys).
			Msg("Poll cycle complete")

		elapsed := w.Clock.Now().Sub(startTime)
		if wait := pollInterval - elapsed; wait > 0 {
			w.Clock.Sleep(ctx, wait)
		}
	}
}

func (w *Worker) runStream(ctx context.Context, streamer adapter.StreamingAdapter, session *adapter.Session, sourceRow *model.Source) error {
	backoffInterval := w.Descriptor.BackoffIntervalDuration()

	var refData *resolver.RefData

	emit := func(record sighting.Sighting) {
		if refData == nil || w.Clock.Now().Sub(refData.LoadedAt) > refDataMaxAge {
			fresh, err := resolver.LoadRefData(ctx, w.Store, w.Descriptor.Operators)
			if err != nil {
				log.Error().Err(err).Str("source", w.Descriptor.Name).Msg("Failed to load reference data")
			} else {
				refData = fresh
			}
		}
		if refData == nil {
			return
		}

		result, err := w.Pipeline.ProcessBatch(ctx, w.Descriptor, refData, []sighting.Sighting{record})
		if err != nil {
			log.Error().Err(err).Str("source", w.Descriptor.Name).Msg("Failed to process streamed sighting")
			return
		}

		if result.Written > 0 || result.Refreshed > 0 {
			sourceRow.LastSuccessfulPoll = w.Clock.Now()
			sourceRow.ModificationDateTime = sourceRow.LastSuccessfulPoll
			sourceRow.Settings = session.Settings

			if err := w.Store.UpsertSource(ctx, sourceRow); err != nil {
				log.Error().Err(err).Str("source", w.Descriptor.Name).Msg("Failed to persist source row")
			}
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := streamer.Stream(ctx, session, emit)
		if ctx.Err() != nil {
			return nil
		}

		if adapter.IsFatal(err) {
			return w.halt(err)
		}

		log.Warn().Err(err).Str("source", w.Descriptor.Name).Msg("Stream dropped, reconnecting")
		w.Clock.Sleep(ctx, backoffInterval)
	}
}

// housekeeping runs after every successful cycle: previously reported
// vehicles the source went quiet on lose their current flag, and the durable
// source row records the cycle and any cursor movement
func (w *Worker) housekeeping(ctx context.Context, session *adapter.Session, sourceRow *model.Source, result *CycleResult) {
	if err := w.Store.MarkSourceLocationsStale(ctx, w.Descriptor.Name, result.RefreshedVehicleRefs); err != nil {
		log.Error().Err(err).Str("source", w.Descriptor.Name).Msg("Failed to mark stale locations")
	}

	sourceRow.LastSuccessfulPoll = w.Clock.Now()
	sourceRow.ModificationDateTime = sourceRow.LastSuccessfulPoll
	sourceRow.Settings = session.Settings

	if err := w.Store.UpsertSource(ctx, sourceRow); err != nil {
		log.Error().Err(err).Str("source", w.Descriptor.Name).Msg("Failed to persist source row")
	}
}

// loadSourceRow restores the durable bookkeeping, seeding a fresh row from
// the descriptor on first run
func (w *Worker) loadSourceRow(ctx context.Context) (*model.Source, error) {
	sourceRow, err := w.Store.GetSource(ctx, w.Descriptor.Name)
	if err != nil {
		return nil, err
	}

	if sourceRow == nil {
		sourceRow = &model.Source{
			Name:             w.Descriptor.Name,
			Settings:         map[string]string{},
			CreationDateTime: w.Clock.Now(),
		}

		for key, value := range w.Descriptor.Settings {
			sourceRow.Settings[key] = value
		}
	}

	if sourceRow.Settings == nil {
		sourceRow.Settings = map[string]string{}
	}

	return sourceRow, nil
}

func (w *Worker) halt(err error) error {
	log.Error().Err(err).Str("source", w.Descriptor.Name).Msg("Source halted on fatal error")

	if w.Alerts != nil {
		w.Alerts.FatalSourceError(w.Descriptor.Name, err)
	}

	return err
}
