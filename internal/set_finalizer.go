package internal

import (
	"context"
	"runtime"

	"github.com/xaionaro-go/avbackground/logger"
)

// SetFinalizer makes sure the object is closed even if the owner forgot to.
func SetFinalizer[T interface{ Close(context.Context) error }](
	ctx context.Context,
	obj T,
) {
	runtime.SetFinalizer(obj, func(obj T) {
		logger.Debugf(ctx, "closing an unreachable %T", obj)
		if err := obj.Close(ctx); err != nil {
			logger.Errorf(ctx, "unable to close %T: %v", obj, err)
		}
	})
}
