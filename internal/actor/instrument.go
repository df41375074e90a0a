package actor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"storyline/internal/metrics"
)

// Instrumented wraps an Actor with logging and metrics. Failures always
// surface as *InvocationError.
type Instrumented struct {
	Next    Actor
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (i Instrumented) Invoke(ctx context.Context, req Request) (Response, error) {
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	log := i.Logger
	if log == nil {
		log = zap.NewNop()
	}
	start := now()
	resp, err := i.Next.Invoke(ctx, req)
	took := now().Sub(start)
	if err != nil {
		var ie *InvocationError
		if !errors.As(err, &ie) {
			err = &InvocationError{Task: req.Task, Err: err}
		}
		i.Metrics.ObserveActor(req.Task, "error", took)
		log.Error("actor invocation failed", zap.String("task", req.Task), zap.Duration("took", took), zap.Error(err))
		return Response{}, err
	}
	outcome := "ok"
	if req.Schema != "" && !resp.HasPayload() {
		outcome = "no_payload"
	}
	i.Metrics.ObserveActor(req.Task, outcome, took)
	log.Debug("actor invocation", zap.String("task", req.Task), zap.Duration("took", took), zap.Int("raw_bytes", len(resp.Raw)), zap.Bool("payload", resp.HasPayload()))
	return resp, nil
}
