package serverapp

import (
	"context"
	"fmt"
	"testing"

	"reportql/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lifecycleConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "reportql"
	cfg.Database.Database = "reportql"
	cfg.Server.Port = 8080
	return cfg
}

func TestNew_RequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = New(lifecycleConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestNew_ResolvesEffectiveDatabase(t *testing.T) {
	app, err := New(lifecycleConfig(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, "reportql", app.effectiveDatabase)
	assert.False(t, app.dsnPresent)
}

func TestNew_RejectsUnresolvableDatabase(t *testing.T) {
	cfg := lifecycleConfig()
	cfg.Database.Database = ""
	_, err := New(cfg, testLogger())
	require.Error(t, err)
}

func TestStart_RequiresInit(t *testing.T) {
	app, err := New(lifecycleConfig(), testLogger())
	require.NoError(t, err)

	_, err = app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestWaitForStop_NilChannels(t *testing.T) {
	app, err := New(lifecycleConfig(), testLogger())
	require.NoError(t, err)

	_, err = app.WaitForStop(nil, nil)
	require.Error(t, err)
}

func TestWaitForStop_ServerError(t *testing.T) {
	app, err := New(lifecycleConfig(), testLogger())
	require.NoError(t, err)

	serverErrors := make(chan error, 1)
	serverErrors <- fmt.Errorf("listen failed")

	reason, err := app.WaitForStop(nil, serverErrors)
	assert.Equal(t, "server_error", reason)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen failed")
}

func TestCleanupStack_RunsInReverseOrder(t *testing.T) {
	var order []string
	stack := cleanupStack{}
	stack.push("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	stack.push("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	stack.run(context.Background(), testLogger())
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	app, err := New(lifecycleConfig(), testLogger())
	require.NoError(t, err)

	runs := 0
	app.cleanup.push("counter", func(context.Context) error {
		runs++
		return nil
	})

	require.NoError(t, app.Shutdown(context.Background()))
	require.NoError(t, app.Shutdown(context.Background()))
	assert.Equal(t, 1, runs)
}
