package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_food/pkg/circuitbreaker"
)

// breakerGateway fails fast while the gateway keeps erroring. Denials and
// ErrRejected do not count as failures.
type breakerGateway struct {
	next   Gateway
	verify *circuitbreaker.Breaker[*Verification]
	init   *circuitbreaker.Breaker[string]
}

func WithBreaker(next Gateway, failures uint32, openTimeout time.Duration, log *slog.Logger) Gateway {
	healthy := func(err error) bool {
		return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled)
	}
	return &breakerGateway{
		next: next,
		verify: circuitbreaker.New[*Verification](circuitbreaker.Settings{
			Name:                "gateway-verify",
			ConsecutiveFailures: failures,
			OpenTimeout:         openTimeout,
			IsSuccessful:        healthy,
			Logger:              log,
		}),
		init: circuitbreaker.New[string](circuitbreaker.Settings{
			Name:                "gateway-initialize",
			ConsecutiveFailures: failures,
			OpenTimeout:         openTimeout,
			IsSuccessful:        healthy,
			Logger:              log,
		}),
	}
}

func (b *breakerGateway) Verify(ctx context.Context, txRef string) (*Verification, error) {
	return b.verify.Execute(func() (*Verification, error) {
		return b.next.Verify(ctx, txRef)
	})
}

func (b *breakerGateway) Initialize(ctx context.Context, req InitRequest) (string, error) {
	return b.init.Execute(func() (string, error) {
		return b.next.Initialize(ctx, req)
	})
}
