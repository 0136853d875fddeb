// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/store"
)

const sampleRecording = `{"kind":"page","ts":1000,"url":"/checkout","wall_ms":1772366400000,"elements":[{"id":"buy","tag":"button","goal":"purchase"}]}
{"kind":"click","ts":1800,"x":10,"y":10,"target":"buy"}
{"kind":"pagehide","ts":2000}
`

// newTestConfig returns the defaults with a quiet logger.
func newTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Logger.Level = "error"
	cfg.Engine.ProjectKey = "proj-cli"
	return cfg
}

// executeCommand runs a fresh command tree, including config loading.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	rootCmd := NewRootCommand()
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// executeCommandNoPreRun is for testing argument and flag validation without
// triggering config loading in PersistentPreRunE.
func executeCommandNoPreRun(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := NewRootCommand()
	rootCmd.PersistentPreRunE = nil

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// createTempFile writes content under the test's temp dir.
func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// mockStoreProvider builds stores over a pgxmock pool.
type mockStoreProvider struct {
	pool      pgxmock.PgxPoolIface
	logger    *zap.Logger
	err       error
	cleanedUp bool
}

func newMockStoreProvider(t *testing.T) *mockStoreProvider {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	pool.ExpectPing()
	return &mockStoreProvider{pool: pool, logger: zaptest.NewLogger(t)}
}

func (m *mockStoreProvider) Create(ctx context.Context, _ *config.Config) (*store.Store, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	s, err := store.New(ctx, m.pool, m.logger)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { m.cleanedUp = true }, nil
}
