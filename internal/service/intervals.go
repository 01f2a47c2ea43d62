package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/fortunes-client/infra/transport/socketio"
	"github.com/webitel/fortunes-client/internal/adapter/pubsub"
	"github.com/webitel/fortunes-client/internal/domain/model"
)

// DefaultMaxSubscriptions caps concurrent interval subscriptions.
const DefaultMaxSubscriptions = 64

// intervalEntry is one live interval subscription: the transport handler for
// its key forwards pushes to reply.
type intervalEntry struct {
	ctx   context.Context
	reply pubsub.Replier

	mu     sync.Mutex
	reason error
}

func (e *intervalEntry) setReason(err error) {
	e.mu.Lock()
	e.reason = err
	e.mu.Unlock()
}

func (e *intervalEntry) endReason() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// intervalRegistry maps message keys to subscriptions. It is bounded: adding
// past capacity evicts the least recently registered key.
type intervalRegistry struct {
	client socketio.Client
	logger *slog.Logger
	cache  *lru.Cache[model.MessageKey, *intervalEntry]
}

func newIntervalRegistry(client socketio.Client, logger *slog.Logger, size int) (*intervalRegistry, error) {
	if size <= 0 {
		size = DefaultMaxSubscriptions
	}

	r := &intervalRegistry{
		client: client,
		logger: logger,
	}

	// [MEMORY_MANAGEMENT] Bounded LRU; every removal path runs onEvict.
	cache, err := lru.NewWithEvict(size, r.onEvict)
	if err != nil {
		return nil, err
	}
	r.cache = cache

	return r, nil
}

// Add registers key and starts forwarding its pushes to reply. A previous
// subscription on the same key is ended first.
func (r *intervalRegistry) Add(ctx context.Context, key model.MessageKey, reply pubsub.Replier) {
	if old, ok := r.cache.Peek(key); ok {
		old.setReason(model.ErrIntervalEvicted)
		r.cache.Remove(key)
	}

	entry := &intervalEntry{
		ctx:    ctx,
		reply:  reply,
		reason: model.ErrIntervalEvicted,
	}

	r.client.On(key.String(), func(args []json.RawMessage) {
		if err := reply.Reply(ctx, firstArg(args)); err != nil {
			r.logger.Warn("INTERVAL_PUSH_FAILED", "key", key, "err", err)
		}
	})

	if evicted := r.cache.Add(key, entry); evicted {
		r.logger.Warn("INTERVAL_CAPACITY_REACHED", "size", r.cache.Len())
	}

	r.logger.Debug("INTERVAL_REGISTERED", "key", key)
}

// Stop ends the subscription for key cleanly. Unknown keys are ignored.
func (r *intervalRegistry) Stop(key model.MessageKey) bool {
	entry, ok := r.cache.Peek(key)
	if !ok {
		return false
	}
	entry.setReason(nil)
	return r.cache.Remove(key)
}

// EndAll ends every subscription with reason.
func (r *intervalRegistry) EndAll(reason error) {
	for _, entry := range r.cache.Values() {
		entry.setReason(reason)
	}
	r.cache.Purge()
}

func (r *intervalRegistry) Len() int {
	return r.cache.Len()
}

func (r *intervalRegistry) Contains(key model.MessageKey) bool {
	return r.cache.Contains(key)
}

// onEvict removes the transport handler and tells the requester the stream
// is over.
func (r *intervalRegistry) onEvict(key model.MessageKey, entry *intervalEntry) {
	r.client.Off(key.String())

	reason := entry.endReason()
	var err error
	if reason == nil {
		err = entry.reply.End(entry.ctx)
	} else {
		err = entry.reply.Fail(entry.ctx, reason)
	}

	r.logger.Debug("INTERVAL_ENDED", "key", key, "reason", reason)
	if err != nil {
		r.logger.Warn("INTERVAL_END_NOTIFY_FAILED", "key", key, "err", err)
	}
}

// firstArg is the payload a single-argument callback would receive.
func firstArg(args []json.RawMessage) json.RawMessage {
	if len(args) == 0 || len(args[0]) == 0 {
		return json.RawMessage("null")
	}
	return args[0]
}
