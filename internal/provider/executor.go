package provider

import (
	"context"
	"fmt"

	"scribepipe/internal/breaker"
	"scribepipe/internal/logger"
	"scribepipe/internal/selector"
)

// Executor routes a transcription request to the selected backend through
// that backend's shared circuit breaker.
type Executor struct {
	providers map[selector.Backend]Provider
	breakers  *breaker.Registry
	log       *logger.Logger
}

// NewExecutor wires the backends behind the breaker registry.
func NewExecutor(breakers *breaker.Registry, backends ...Provider) *Executor {
	e := &Executor{
		providers: map[selector.Backend]Provider{},
		breakers:  breakers,
		log:       logger.New(),
	}
	for _, p := range backends {
		e.providers[selector.Backend(p.Name())] = p
	}
	return e
}

// Transcribe invokes the chosen backend and returns the normalized result.
// When the backend's breaker is open the call short-circuits with
// breaker.ErrOpen without touching the network.
func (e *Executor) Transcribe(ctx context.Context, backend selector.Backend, sourceURL, language string) (*Result, error) {
	p, ok := e.providers[backend]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for backend %q", ErrProvider, backend)
	}

	log := e.log.WithComponent("executor").WithField("backend", p.Name())
	log.WithField("language", language).Info("starting transcription")

	var res *Result
	err := e.breakers.Get(p.Name()).Do(ctx, func(ctx context.Context) error {
		var callErr error
		res, callErr = p.Transcribe(ctx, sourceURL, language)
		return callErr
	})
	if err != nil {
		log.WithError(err).Warn("transcription failed")
		return nil, err
	}
	log.WithField("duration_seconds", res.DurationSeconds).
		WithField("utterances", len(res.Utterances)).
		Info("transcription complete")
	return res, nil
}
