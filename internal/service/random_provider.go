package service

import (
	"context"
	"log/slog"

	"github.com/webitel/fortunes-client/internal/adapter/pubsub"
	"github.com/webitel/fortunes-client/internal/domain/model"
)

// RandomProvider fetches random fortunes through the mediator.
type RandomProvider interface {
	// GetData requests a random message and hands the payload to cb
	// unchanged. cb is not called when the request fails.
	GetData(ctx context.Context, cb func(model.RandomMessage)) error
	// Fetch is the value-returning form of GetData.
	Fetch(ctx context.Context) (model.RandomMessage, error)
}

type RandomDataProvider struct {
	mediator pubsub.Mediator
	logger   *slog.Logger
}

func NewRandomDataProvider(mediator pubsub.Mediator, logger *slog.Logger) *RandomDataProvider {
	return &RandomDataProvider{
		mediator: mediator,
		logger:   logger,
	}
}

func (p *RandomDataProvider) GetData(ctx context.Context, cb func(model.RandomMessage)) error {
	msg, err := p.Fetch(ctx)
	if err != nil {
		return err
	}

	p.logger.Info("RANDOM_RECEIVED", "payload", string(msg.Data))
	cb(msg)

	return nil
}

func (p *RandomDataProvider) Fetch(ctx context.Context) (model.RandomMessage, error) {
	return p.mediator.Random(ctx, model.RandomRequest{})
}
