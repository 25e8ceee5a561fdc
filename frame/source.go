package frame

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avbackground/types"
)

// Source yields frames in capture order.
//
// ReadFrame blocks until the next frame is available. It returns io.EOF
// when the stream has ended and ctx.Err() when ctx is cancelled. The
// returned frame must be closed by the caller.
type Source interface {
	fmt.Stringer
	types.Closer
	ReadFrame(ctx context.Context) (*Frame, error)
}

// Sink accepts composited frames. It does not take the ownership of the
// frame: the caller closes it after WriteFrame returns.
type Sink interface {
	WriteFrame(ctx context.Context, f *Frame) error
}
