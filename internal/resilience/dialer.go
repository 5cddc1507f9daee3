package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/pkg/transport"
)

// ErrAllEndpointsFailed is returned by [FailoverDialer.Dial] when every
// endpoint failed or was skipped by its breaker.
var ErrAllEndpointsFailed = errors.New("resilience: all endpoints failed")

// Compile-time interface assertion.
var _ transport.Dialer = (*FailoverDialer)(nil)

// Endpoint is one named dial target.
type Endpoint struct {
	Name   string
	Dialer transport.Dialer
}

type endpoint struct {
	Endpoint
	breaker *Breaker
}

// FailoverDialer is a [transport.Dialer] over an ordered list of endpoints.
// Each Dial starts at the first endpoint whose breaker admits the call, so
// traffic returns to the primary once it recovers.
type FailoverDialer struct {
	endpoints []endpoint
}

// NewFailoverDialer creates a [FailoverDialer]. cfg is applied to every
// endpoint's breaker; its Name is replaced by the endpoint name.
func NewFailoverDialer(cfg BreakerConfig, endpoints ...Endpoint) (*FailoverDialer, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("resilience: at least one endpoint is required")
	}
	d := &FailoverDialer{endpoints: make([]endpoint, 0, len(endpoints))}
	for _, e := range endpoints {
		if e.Dialer == nil {
			return nil, fmt.Errorf("resilience: endpoint %q has no dialer", e.Name)
		}
		bc := cfg
		bc.Name = e.Name
		d.endpoints = append(d.endpoints, endpoint{Endpoint: e, breaker: NewBreaker(bc)})
	}
	return d, nil
}

// Dial implements [transport.Dialer].
func (d *FailoverDialer) Dial(ctx context.Context) (transport.Transport, error) {
	var errs []error
	for i := range d.endpoints {
		e := &d.endpoints[i]
		var conn transport.Transport
		err := e.breaker.Do(func() error {
			var dialErr error
			conn, dialErr = e.Dialer.Dial(ctx)
			return dialErr
		})
		if err == nil {
			if i > 0 {
				slog.Info("connected to fallback endpoint", "endpoint", e.Name)
			}
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping endpoint, circuit open", "endpoint", e.Name)
		} else {
			slog.Warn("endpoint dial failed", "endpoint", e.Name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, errors.Join(errs...))
}

// States returns the breaker state of every endpoint in order.
func (d *FailoverDialer) States() []State {
	out := make([]State, len(d.endpoints))
	for i := range d.endpoints {
		out[i] = d.endpoints[i].breaker.State()
	}
	return out
}
