package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/config"
	"github.com/JakeFAU/govwatch/internal/monitor"
)

// MockApp mocks the App interface.
type MockApp struct {
	mock.Mock
}

func (m *MockApp) Serve(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockApp) RunOnce(ctx context.Context) (monitor.RunSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(monitor.RunSummary), args.Error(1)
}

func (m *MockApp) Ingest(ctx context.Context) (monitor.IngestStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(monitor.IngestStats), args.Error(1)
}

func (m *MockApp) Classify(ctx context.Context) (monitor.RouteStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(monitor.RouteStats), args.Error(1)
}

func (m *MockApp) Close() {
	m.Called()
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "govwatch.yaml")
	doc := `
store:
  driver: memory
search:
  api_key: search-key
classifier:
  api_key: llm-key
logging:
  development: false
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

// useMockApp swaps the app factory for the duration of a test.
func useMockApp(t *testing.T, m *MockApp) *config.Config {
	t.Helper()
	var got config.Config
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		got = cfg
		return m, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &got
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandPrintsSummary(t *testing.T) {
	m := new(MockApp)
	m.On("RunOnce", mock.Anything).Return(monitor.RunSummary{RunID: "run-1", Status: monitor.RunSucceeded}, nil)
	m.On("Close").Return().Once()
	cfg := useMockApp(t, m)

	out, err := execute(t, "run", "--config", writeConfig(t))
	require.NoError(t, err)

	var summary monitor.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, config.DriverMemory, cfg.Store.Driver)
	m.AssertExpectations(t)
}

func TestRunCommandClosesAppOnFailure(t *testing.T) {
	m := new(MockApp)
	m.On("RunOnce", mock.Anything).Return(monitor.RunSummary{RunID: "run-2", Status: monitor.RunFailed}, errors.New("store down"))
	m.On("Close").Return().Once()
	useMockApp(t, m)

	out, err := execute(t, "run", "--config", writeConfig(t))
	require.ErrorContains(t, err, "store down")
	require.Contains(t, out, `"run-2"`)
	m.AssertExpectations(t)
}

func TestIngestAndClassifyCommands(t *testing.T) {
	m := new(MockApp)
	m.On("Ingest", mock.Anything).Return(monitor.IngestStats{Inserted: 4}, nil)
	m.On("Classify", mock.Anything).Return(monitor.RouteStats{Seen: 4}, nil)
	m.On("Close").Return().Twice()
	useMockApp(t, m)
	path := writeConfig(t)

	out, err := execute(t, "ingest", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, `"inserted": 4`)

	out, err = execute(t, "classify", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, `"seen": 4`)
	m.AssertExpectations(t)
}

func TestServeCommand(t *testing.T) {
	m := new(MockApp)
	m.On("Serve", mock.Anything).Return(nil)
	m.On("Close").Return().Once()
	useMockApp(t, m)

	_, err := execute(t, "serve", "--config", writeConfig(t))
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestInvalidConfigFailsBeforeBuildingApp(t *testing.T) {
	m := new(MockApp)
	useMockApp(t, m)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: mongo\n"), 0o600))

	_, err := execute(t, "run", "--config", path)
	require.ErrorContains(t, err, "load config")
	m.AssertNotCalled(t, "RunOnce", mock.Anything)
}

func TestTaxonomyCommandNeedsNoConfig(t *testing.T) {
	m := new(MockApp)
	useMockApp(t, m)

	out, err := execute(t, "taxonomy")
	require.NoError(t, err)
	require.Contains(t, out, "user_behavior_violations")
	require.Contains(t, out, "total")
	require.Contains(t, out, "610")

	_, err = execute(t, "taxonomy", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
