package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsSafe(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)

	// Every hook is a no-op but never panics.
	p.RecordReceipt(ctx, "CONFIRMED")
	p.RecordError(ctx, "BACKEND_UNAVAILABLE")

	ctx2, done := p.TrackOperation(ctx, "governance.approve")
	require.NotNil(t, ctx2)
	done(nil)
	done2 := func() func(error) {
		_, d := p.TrackOperation(ctx, "worker.process_one")
		return d
	}()
	done2(errors.New("boom"))

	require.NoError(t, p.Shutdown(ctx))
}

func TestNilConfigUsesDefaults(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, p.config.Enabled)
	require.Equal(t, "nexus-core", p.config.ServiceName)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.False(t, cfg.Enabled)
}
