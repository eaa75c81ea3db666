package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-authz/internal/testing/guard"
)

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run(context.Background(), nil, &out))
	require.Contains(t, out.String(), "usage: authzctl")

	out.Reset()
	require.ErrorContains(t, run(context.Background(), []string{"explode"}, &out), "unknown command")
}

func TestRunInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"invalidate", "-scope", "role", "-id", "r-1"}, &out))
	require.Equal(t, "invalidated role r-1\n", out.String())

	require.ErrorContains(t, run(context.Background(), []string{"invalidate", "-scope", "role"}, &out), "needs an id")
}
