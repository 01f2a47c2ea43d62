package pubsub

import (
	"context"
	"sync"

	"github.com/webitel/fortunes-client/internal/domain/model"
)

// IntervalSubscription is the requester side of a randomInterval stream.
type IntervalSubscription struct {
	key  model.MessageKey
	stop func(ctx context.Context) error

	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	err      error
	teardown func()
}

func newIntervalSubscription(key model.MessageKey, teardown func()) *IntervalSubscription {
	return &IntervalSubscription{
		key:      key,
		done:     make(chan struct{}),
		teardown: teardown,
	}
}

// Key is the server-assigned event name the pushes arrive on.
func (s *IntervalSubscription) Key() model.MessageKey { return s.key }

// Done is closed when the subscription has ended for any reason.
func (s *IntervalSubscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: nil for a clean stop,
// model.ErrOffline on disconnect, model.ErrIntervalEvicted on eviction.
func (s *IntervalSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop ends the subscription locally, then asks the responder to release the
// key. No push is delivered once Stop has been called. It is safe to call
// from the push callback; ctx bounds only the wait for the responder.
func (s *IntervalSubscription) Stop(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.finish(nil)

	if s.stop == nil {
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.stop(context.WithoutCancel(ctx))
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *IntervalSubscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		s.teardown()
		close(s.done)
	})
}
