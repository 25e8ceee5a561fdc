// Package internal contains helpers shared by the packages of the module
// which are not a part of its API.
package internal

import (
	"context"

	"github.com/xaionaro-go/avbackground/logger"
)

// Assert panics (through the logger) if mustBeTrue is false.
func Assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}

	logger.Panicf(ctx, "assertion failed: %v", extraArgs)
}
