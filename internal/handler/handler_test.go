package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/backup"
	"github.com/pulseloop/wearsync/internal/battery"
	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/internal/connector"
	"github.com/pulseloop/wearsync/internal/pipeline"
	"github.com/pulseloop/wearsync/internal/repository"
	"github.com/pulseloop/wearsync/internal/syncer"
	"github.com/pulseloop/wearsync/internal/synclog"
	"github.com/pulseloop/wearsync/internal/wearable"
	"github.com/pulseloop/wearsync/pkg/model"
)

// stubConnector serves canned data points for API tests
type stubConnector struct {
	platform   model.SourcePlatform
	authorized bool
	points     []model.HealthDataPoint
}

func (f *stubConnector) Platform() model.SourcePlatform { return f.platform }

func (f *stubConnector) Initialize(ctx context.Context, cfg config.PlatformConfig) error {
	return nil
}

func (f *stubConnector) AuthURL(state string) (string, error) {
	return "https://example.test/consent?state=" + state, nil
}

func (f *stubConnector) Authorize(ctx context.Context, code string) error {
	f.authorized = true
	return nil
}

func (f *stubConnector) IsAuthorized() bool { return f.authorized }

func (f *stubConnector) RevokeAuthorization(ctx context.Context) error {
	f.authorized = false
	return nil
}

func (f *stubConnector) SupportedMetrics() []model.MetricType {
	return []model.MetricType{model.MetricSteps}
}

func (f *stubConnector) FetchData(ctx context.Context, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error) {
	return f.points, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *stubConnector) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	syncCfg := config.DefaultSyncConfig()
	syncCfg.EnabledMetrics = []model.MetricType{model.MetricSteps}
	cfgManager := config.NewManager(syncCfg, logger)

	repo := repository.NewMemoryStore()
	log := synclog.New(model.LogDebug, logger)
	optimizer := battery.NewOptimizer(battery.NewSimulatedProvider(100, false), cfgManager, logger)

	store, err := backup.NewFilesystemStore(t.TempDir(), logger)
	require.NoError(t, err)
	backups := backup.NewManager(store, repo, cfgManager, nil, logger)

	syncManager := syncer.NewManager(
		cfgManager,
		repo,
		pipeline.NewValidator(),
		pipeline.NewNormalizer(),
		pipeline.NewAnomalyDetector(syncCfg.AnomalyThreshold),
		optimizer,
		backups,
		log,
		"user-1",
		logger,
	)

	stub := &stubConnector{
		platform: model.SourceFitbit,
		points: []model.HealthDataPoint{
			{
				ID:         "fitbit:steps:1700000000",
				Source:     model.SourceFitbit,
				MetricType: model.MetricSteps,
				Timestamp:  time.Now().Add(-time.Hour),
				Value:      model.ScalarValue(4200),
				Unit:       "count",
			},
		},
	}

	service := wearable.NewService(cfgManager, syncManager, backups, log, logger,
		wearable.WithConnectorFactory(func(platform model.SourcePlatform, logger *zap.Logger) (connector.Connector, error) {
			return stub, nil
		}),
	)

	r := gin.New()
	RegisterRoutes(r, service, logger)
	return r, stub
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// connectFitbit walks the platform through config, connect and authorize
func connectFitbit(t *testing.T, r *gin.Engine) {
	t.Helper()

	w := doJSON(t, r, http.MethodPut, "/api/v1/platforms/fitbit/config", config.PlatformConfig{
		ClientID:     "id",
		ClientSecret: "secret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/platforms/fitbit/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/platforms/fitbit/authorize", gin.H{"code": "auth-code"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPlatformConnectionFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	connectFitbit(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/v1/platforms/fitbit/auth-url?state=xyz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var authResp struct {
		AuthURL string `json:"auth_url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &authResp))
	assert.Contains(t, authResp.AuthURL, "state=xyz")

	w = doJSON(t, r, http.MethodGet, "/api/v1/platforms", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var platforms struct {
		Connected []model.SourcePlatform `json:"connected"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &platforms))
	assert.Equal(t, []model.SourcePlatform{model.SourceFitbit}, platforms.Connected)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/platforms/fitbit/authorization", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/platforms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &platforms))
	assert.Empty(t, platforms.Connected)
}

func TestUnknownPlatformRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/platforms/garmin/connect", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "VALIDATION_ERROR", errResp.Code)
}

func TestAuthURLRequiresConnectedPlatform(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/platforms/fitbit/auth-url", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "NOT_CONNECTED", errResp.Code)
}

func TestPostSyncReturnsStats(t *testing.T) {
	r, _ := newTestRouter(t)
	connectFitbit(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats model.SyncStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalSynced)
	assert.Empty(t, stats.Errors)

	w = doJSON(t, r, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status model.SyncStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.NotNil(t, status.LastSyncTime)
	assert.Equal(t, 1, status.LastSyncStats.TotalSynced)
}

func TestSyncLogsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	connectFitbit(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/sync/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var logsResp struct {
		Logs []model.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logsResp))
	assert.NotEmpty(t, logsResp.Logs)

	w = doJSON(t, r, http.MethodGet, "/api/v1/sync/logs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedulerStartStop(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sync/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/sync/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "ALREADY_RUNNING", errResp.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/sync/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConfigEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg config.SyncConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, 30, cfg.SyncIntervalMinutes)

	interval := 60
	w = doJSON(t, r, http.MethodPatch, "/api/v1/config", config.Patch{SyncIntervalMinutes: &interval})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, 60, cfg.SyncIntervalMinutes)

	bad := -5
	w = doJSON(t, r, http.MethodPatch, "/api/v1/config", config.Patch{SyncIntervalMinutes: &bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, 60, cfg.SyncIntervalMinutes, "rejected patch must not change the configuration")
}

func TestConfigResponseOmitsClientSecrets(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPut, "/api/v1/platforms/fitbit/config", config.PlatformConfig{
		ClientID:     "id",
		ClientSecret: "very-secret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id"`)
	assert.NotContains(t, w.Body.String(), "very-secret")
}

func TestBackupEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	connectFitbit(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/backups", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var info model.BackupInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.NotEmpty(t, info.ID)

	w = doJSON(t, r, http.MethodGet, "/api/v1/backups", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Backups []model.BackupInfo `json:"backups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.NotEmpty(t, listResp.Backups)

	w = doJSON(t, r, http.MethodPost, "/api/v1/backups/"+info.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var restoreResp struct {
		PointsRestored int `json:"points_restored"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &restoreResp))
	assert.Equal(t, 0, restoreResp.PointsRestored, "points already present are not duplicated")

	w = doJSON(t, r, http.MethodPost, "/api/v1/backups/no-such-backup/restore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidJSONBodyRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/config", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "VALIDATION_ERROR", errResp.Code)
	assert.NotEmpty(t, errResp.Message)
}
