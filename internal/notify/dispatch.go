package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/jobs"
)

// Dispatcher hands a Request to the background without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request)
}

// Background runs requests on a jobs.Runner in this process.
type Background struct {
	service *Service
	runner  jobs.Runner
	logger  *zap.Logger
}

// NewBackground creates an in-process dispatcher.
func NewBackground(service *Service, runner jobs.Runner, logger *zap.Logger) *Background {
	return &Background{service: service, runner: runner, logger: logger}
}

// Dispatch schedules req. Delivery errors are logged by the runner.
func (b *Background) Dispatch(ctx context.Context, req Request) {
	b.runner.Go(ctx, "notify."+string(req.Target), func(ctx context.Context) error {
		_, err := b.service.Deliver(ctx, req)
		return err
	})
}
