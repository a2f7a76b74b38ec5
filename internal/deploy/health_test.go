package deploy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/engine"
	"github.com/sentinelhq/sentinel/internal/ledger"
	"github.com/sentinelhq/sentinel/internal/remote"
	"github.com/sentinelhq/sentinel/internal/secrets"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Run(_ context.Context, _ remote.Host, cmds ...string) (string, error) {
	args := m.Called(strings.Join(cmds, " && "))
	return args.String(0), args.Error(1)
}

type MockEngineAPI struct {
	mock.Mock
}

func (m *MockEngineAPI) Heartbeat(context.Context) error {
	return m.Called().Error(0)
}

func (m *MockEngineAPI) Version(context.Context) (engine.Version, error) {
	args := m.Called()
	return args.Get(0).(engine.Version), args.Error(1)
}

func contains(substr string) any {
	return mock.MatchedBy(func(cmd string) bool { return strings.Contains(cmd, substr) })
}

func newHealthOrchestrator(t *testing.T, exec remote.Executor, api APIFactory) (*Orchestrator, ledger.Store, *secrets.Box) {
	t.Helper()
	store, err := ledger.OpenFile(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, writeFile(path, key))
	box, err := secrets.LoadBox(path)
	require.NoError(t, err)

	var cfg config.Config
	cfg.ApplyDefaults()
	orch := New(Deps{Exec: exec, Store: store, Box: box, API: api}, Options{Engine: cfg.Engine, Proxy: cfg.Proxy, Deploy: cfg.Deploy})
	return orch, store, box
}

func TestHealthNoBouncerIsUnhealthy(t *testing.T) {
	exec := &MockExecutor{}
	exec.On("Run", contains("docker ps")).Return("Up 2 hours", nil)
	exec.On("Run", contains("cscli version")).Return("version: v1.6.3", nil)
	exec.On("Run", contains("cscli bouncers list")).Return("[]", nil)

	orch, store, _ := newHealthOrchestrator(t, exec, nil)
	report := orch.Health(context.Background(), edge)

	assert.False(t, report.Healthy)
	require.Len(t, report.Checks, 3)
	assert.Equal(t, Check{Name: CheckContainerRunning, OK: true}, report.Checks[0])
	assert.Equal(t, Check{Name: CheckEngineResponsive, OK: true}, report.Checks[1])
	assert.Equal(t, Check{Name: CheckBouncerConfigured, Message: msgNoBouncer}, report.Checks[2])
	assert.Equal(t, "bouncer_configured: no bouncer configured", report.Failures())

	st, ok, err := store.Server(context.Background(), "edge")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, st.Available)
	exec.AssertExpectations(t)
}

func TestHealthChecksAreIndependent(t *testing.T) {
	tests := []struct {
		name     string
		ps       string
		psErr    error
		version  error
		bouncers string
		failed   []string
	}{
		{"all pass", "Up 1 minute", nil, nil, `[{"name":"b"}]`, nil},
		{"container exited", "Exited (1)", nil, nil, `[{"name":"b"}]`, []string{CheckContainerRunning}},
		{"engine down", "Up 1 minute", nil, errors.New("exit status 1"), `[{"name":"b"}]`, []string{CheckEngineResponsive}},
		{"null bouncers", "Up 1 minute", nil, nil, "null", []string{CheckBouncerConfigured}},
		{"ssh timeout", "", remote.ErrTimeout, nil, `[{"name":"b"}]`, []string{CheckContainerRunning}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &MockExecutor{}
			exec.On("Run", contains("docker ps")).Return(tt.ps, tt.psErr)
			exec.On("Run", contains("cscli version")).Return("version: v1.6.3", tt.version)
			exec.On("Run", contains("cscli bouncers list")).Return(tt.bouncers, nil)

			orch, _, _ := newHealthOrchestrator(t, exec, nil)
			report := orch.Health(context.Background(), edge)

			var failed []string
			for _, c := range report.Checks {
				if !c.OK {
					failed = append(failed, c.Name)
				}
			}
			assert.Equal(t, tt.failed, failed)
			assert.Equal(t, len(tt.failed) == 0, report.Healthy)
		})
	}
}

func TestHealthPrefersEngineAPI(t *testing.T) {
	exec := &MockExecutor{}
	exec.On("Run", contains("docker ps")).Return("Up 2 hours", nil)
	exec.On("Run", contains("cscli bouncers list")).Return(`[{"name":"b"}]`, nil)

	api := &MockEngineAPI{}
	api.On("Heartbeat").Return(nil)
	api.On("Version").Return(engine.Version{Version: "v1.6.4"}, nil)

	var gotURL, gotKey string
	factory := func(baseURL, apiKey string) (EngineAPI, error) {
		gotURL, gotKey = baseURL, apiKey
		return api, nil
	}
	orch, store, box := newHealthOrchestrator(t, exec, factory)

	sealed, err := box.Seal("server-api-key-123456")
	require.NoError(t, err)
	require.NoError(t, store.SaveServer(context.Background(), ledger.ServerState{
		Name: "edge", Installed: true, LAPIURL: "http://10.0.0.5:8081", EncryptedAPIKey: sealed,
	}))

	report := orch.Health(context.Background(), edge)
	assert.True(t, report.Healthy)
	assert.Equal(t, "v1.6.4", report.Version)
	assert.Equal(t, "http://10.0.0.5:8081", gotURL)
	assert.Equal(t, "server-api-key-123456", gotKey)
	exec.AssertNotCalled(t, "Run", contains("cscli version"))
	api.AssertExpectations(t)

	st, _, err := store.Server(context.Background(), "edge")
	require.NoError(t, err)
	assert.True(t, st.Installed)
	assert.True(t, st.Available)
}
