package scheduler

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Manager runs one worker per configured source and waits for them all.
// A halted worker takes only its own source down.
type Manager struct {
	Workers []*Worker
}

func (m *Manager) Run(ctx context.Context) {
	log.Info().Int("sources", len(m.Workers)).Msg("Starting source workers")

	waitGroup := conc.NewWaitGroup()

	for _, worker := range m.Workers {
		worker := worker

		waitGroup.Go(func() {
			if err := worker.Run(ctx); err != nil {
				log.Error().Err(err).Str("source", worker.Descriptor.Name).Msg("Worker stopped")
			}
		})
	}

	waitGroup.Wait()
}
