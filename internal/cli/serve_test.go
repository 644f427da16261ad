package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_StopsOnCancel(t *testing.T) {
	db := tempDB(t)
	emergencyOrder(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	out, err := executeContext(t, ctx, "serve", "--db", db, "--poll", "20ms", "--format", "json")
	require.NoError(t, err)

	var stats map[string]int64
	decodeResponse(t, out, &stats)
	assert.Equal(t, int64(0), stats["failed"])
	assert.Contains(t, stats, "delivered")
}

func TestServe_NATSUnavailable(t *testing.T) {
	out, err := execute(t, "serve", "--db", tempDB(t), "--nats-url", "nats://127.0.0.1:1", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeSetup, decodeResponse(t, out, nil).Error.Code)
}
