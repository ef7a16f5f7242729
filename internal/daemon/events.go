package daemon

import (
	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/bus"
)

// watchEvents journals bus traffic into the daemon log. The journal is the
// operator's audit trail: every conversation created, message appended,
// status transition and repair outcome lands here as a structured line. The
// returned func stops the journal.
func watchEvents(b *bus.Bus, logger *zap.Logger) func() {
	events, unsub := b.Subscribe("", 128)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-events:
				logger.Info("event",
					zap.String("kind", evt.Kind),
					zap.Time("at", evt.Timestamp),
				)
			case <-stop:
				return
			}
		}
	}()
	return func() {
		unsub()
		close(stop)
	}
}
