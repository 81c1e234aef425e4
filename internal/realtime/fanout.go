package realtime

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/thomas/internal/metrics"
)

// Backend is a named publisher.
type Backend struct {
	Name      string
	Publisher Publisher
}

// Fanout triggers every backend concurrently.
type Fanout struct {
	backends []Backend
}

// NewFanout creates a publisher over the given backends.
func NewFanout(backends ...Backend) *Fanout {
	return &Fanout{backends: backends}
}

// Trigger sends the event to every backend and joins their errors.
func (f *Fanout) Trigger(ctx context.Context, channel, event string, data any) error {
	errs := make([]error, len(f.backends))

	var g errgroup.Group
	for i, b := range f.backends {
		i, b := i, b
		g.Go(func() error {
			if err := b.Publisher.Trigger(ctx, channel, event, data); err != nil {
				metrics.RealtimeTriggers.WithLabelValues(b.Name, "error").Inc()
				errs[i] = fmt.Errorf("%s: %w", b.Name, err)
				return nil
			}
			metrics.RealtimeTriggers.WithLabelValues(b.Name, "ok").Inc()
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}
