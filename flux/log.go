package flux

import (
	"context"
	"fmt"
	"github.com/tryfix/kflux/flux/scheduler"
	"github.com/tryfix/log"
)

// LogValue returns a consumer logging every element together with the worker it arrived on.
func LogValue(logger log.Logger) OnNextFunc {
	return func(ctx context.Context, value interface{}) {
		logger.InfoContext(ctx, fmt.Sprintf(`worker %s, value : %v`, scheduler.CurrentWorker(ctx), value))
	}
}

// LogWorker is a DoOnNext callback logging the worker running a stage.
func LogWorker(logger log.Logger, prefix string) func(ctx context.Context, value interface{}) error {
	return func(ctx context.Context, value interface{}) error {
		logger.InfoContext(ctx, fmt.Sprintf(`%s worker %s, value : %v`, prefix, scheduler.CurrentWorker(ctx), value))
		return nil
	}
}
