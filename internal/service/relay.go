package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/webitel/fortunes-client/internal/adapter/pubsub"
	"github.com/webitel/fortunes-client/internal/domain/event"
	"github.com/webitel/fortunes-client/internal/domain/model"
)

// [RELAY] search: options (empty when absent) -> socket "search" -> raw ack payload
func (m *SocketManager) relaySearch(gen uint64) pubsub.RequestHandler[model.SearchRequest] {
	return func(ctx context.Context, req model.SearchRequest, reply pubsub.Replier) error {
		return m.emit(ctx, gen, event.EmitSearch, req.WireOptions(), reply)
	}
}

// [RELAY] random: options (empty when absent) -> socket "random" -> raw ack payload
func (m *SocketManager) relayRandom(gen uint64) pubsub.RequestHandler[model.RandomRequest] {
	return func(ctx context.Context, req model.RandomRequest, reply pubsub.Replier) error {
		return m.emit(ctx, gen, event.EmitRandom, req.WireOptions(), reply)
	}
}

// [RELAY] randomInterval: options with interval default -> socket "random" ->
// message key; every later event named after the key is pushed to the requester.
func (m *SocketManager) relayRandomInterval(gen uint64) pubsub.RequestHandler[model.RandomIntervalRequest] {
	return func(ctx context.Context, req model.RandomIntervalRequest, reply pubsub.Replier) error {
		if !m.current(gen) {
			return model.ErrOffline
		}

		opts := req.WireOptions(m.config.defaultInterval)
		rctx := context.WithoutCancel(ctx)

		err := m.client.Emit(event.EmitRandom, opts, func(args []json.RawMessage, err error) {
			if err != nil {
				m.fail(rctx, reply, transportErr(err))
				return
			}

			key, err := messageKey(args)
			if err != nil {
				m.fail(rctx, reply, err)
				return
			}

			// The connection may have dropped while the ack was in flight.
			if !m.current(gen) {
				m.fail(rctx, reply, model.ErrOffline)
				return
			}

			m.intervals.Add(rctx, key, reply)
			if err := reply.Reply(rctx, key); err != nil {
				m.logger.Warn("RELAY_REPLY_FAILED", "event", event.TopicRandomInterval, "err", err)
			}
		})
		if err != nil {
			return transportErr(err)
		}

		m.logger.Debug("RELAY_EMITTED", "event", event.EmitRandom, "interval", opts[model.IntervalOption])
		return nil
	}
}

// relayIntervalStop ends an interval subscription on request of its owner.
func (m *SocketManager) relayIntervalStop(_ context.Context, key model.MessageKey) error {
	if !m.intervals.Stop(key) {
		m.logger.Debug("INTERVAL_STOP_UNKNOWN", "key", key)
	}
	return nil
}

// emit forwards one request and replies with the first ack argument.
func (m *SocketManager) emit(ctx context.Context, gen uint64, name string, opts model.Options, reply pubsub.Replier) error {
	if !m.current(gen) {
		return model.ErrOffline
	}

	rctx := context.WithoutCancel(ctx)
	err := m.client.Emit(name, opts, func(args []json.RawMessage, err error) {
		if err != nil {
			m.fail(rctx, reply, transportErr(err))
			return
		}
		if err := reply.Reply(rctx, firstArg(args)); err != nil {
			m.logger.Warn("RELAY_REPLY_FAILED", "event", name, "err", err)
		}
	})
	if err != nil {
		return transportErr(err)
	}

	m.logger.Debug("RELAY_EMITTED", "event", name)
	return nil
}

func (m *SocketManager) fail(ctx context.Context, reply pubsub.Replier, err error) {
	m.logger.Warn("RELAY_FAILED", "err", err)
	if rerr := reply.Fail(ctx, err); rerr != nil {
		m.logger.Warn("RELAY_REPLY_FAILED", "err", rerr)
	}
}

// messageKey extracts the push event name from an interval ack.
func messageKey(args []json.RawMessage) (model.MessageKey, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: empty ack", model.ErrInvalidMessageKey)
	}

	var key string
	if err := json.Unmarshal(args[0], &key); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidMessageKey, err)
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty key", model.ErrInvalidMessageKey)
	}

	return model.MessageKey(key), nil
}
