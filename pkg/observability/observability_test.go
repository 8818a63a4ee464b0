package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DisabledIsNoOp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, done := p.TrackEvaluate(context.Background(), "agent-1", "file_read")
	require.NotNil(t, ctx)
	done("")
	done("POLICY_INTERNAL_ERROR")

	require.NoError(t, p.Shutdown(context.Background()))
}
