package types

import (
	"context"
)

// Closer is implemented by everything that owns a releasable resource
// (frame sources, segmenters, controllers).
type Closer interface {
	Close(context.Context) error
}
