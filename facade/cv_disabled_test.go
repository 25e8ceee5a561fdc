//go:build !with_cv
// +build !with_cv

package facade

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avbackground/pipeline"
	"github.com/xaionaro-go/avbackground/types"
)

func TestVariantCVDisabled(t *testing.T) {
	ctx := testCtx(t)
	f := New(VariantCV("haarcascade_frontalface_default.xml"), nil, pipeline.DefaultConfig())
	status := f.IsSupported()
	require.False(t, status.Status)
	require.Equal(t, "false", status.Details["cv"])
	require.Equal(t, VariantNameCV, status.Details["variant"])

	_, err := f.ActivateBlur(ctx, newChanSource())
	require.ErrorAs(t, err, &types.ErrNotSupported{})
}
