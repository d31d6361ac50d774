package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/backup"
	"github.com/pulseloop/wearsync/internal/battery"
	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/internal/pipeline"
	"github.com/pulseloop/wearsync/internal/repository"
	"github.com/pulseloop/wearsync/internal/synclog"
	"github.com/pulseloop/wearsync/pkg/model"
)

// fakeConnector is a scriptable in-memory connector
type fakeConnector struct {
	platform   model.SourcePlatform
	supported  []model.MetricType
	points     map[model.MetricType][]model.HealthDataPoint
	fetchErr   error
	fetchDelay time.Duration

	mu             sync.Mutex
	authorized     bool
	fetchCalls     int
	fetchedMetrics []model.MetricType
}

func (f *fakeConnector) Platform() model.SourcePlatform { return f.platform }

func (f *fakeConnector) Initialize(ctx context.Context, cfg config.PlatformConfig) error { return nil }

func (f *fakeConnector) AuthURL(state string) (string, error) { return "", nil }

func (f *fakeConnector) Authorize(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = true
	return nil
}

func (f *fakeConnector) IsAuthorized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized
}

func (f *fakeConnector) RevokeAuthorization(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = false
	return nil
}

func (f *fakeConnector) SupportedMetrics() []model.MetricType { return f.supported }

func (f *fakeConnector) FetchData(ctx context.Context, metric model.MetricType, from, to time.Time) ([]model.HealthDataPoint, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.fetchedMetrics = append(f.fetchedMetrics, metric)
	f.mu.Unlock()

	if f.fetchDelay > 0 {
		select {
		case <-time.After(f.fetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.points[metric], nil
}

func (f *fakeConnector) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func newFakeConnector(platform model.SourcePlatform, supported ...model.MetricType) *fakeConnector {
	return &fakeConnector{
		platform:   platform,
		supported:  supported,
		points:     make(map[model.MetricType][]model.HealthDataPoint),
		authorized: true,
	}
}

func fetchedPoint(id string, source model.SourcePlatform, metric model.MetricType, value float64, unit string, ts time.Time) model.HealthDataPoint {
	return model.HealthDataPoint{
		ID:         id,
		Source:     source,
		MetricType: metric,
		Timestamp:  ts,
		Value:      model.ScalarValue(value),
		Unit:       unit,
	}
}

type testEnv struct {
	manager *Manager
	repo    *repository.MemoryStore
	cfg     *config.Manager
	backups *backup.Manager
}

func newTestEnv(t *testing.T, mutate func(*config.SyncConfig), withBackups bool) *testEnv {
	t.Helper()

	syncCfg := config.DefaultSyncConfig()
	syncCfg.Backup.Enabled = withBackups
	if mutate != nil {
		mutate(&syncCfg)
	}

	logger := zap.NewNop()
	cfgManager := config.NewManager(syncCfg, logger)
	repo := repository.NewMemoryStore()
	log := synclog.New(model.LogDebug, logger)
	optimizer := battery.NewOptimizer(battery.NewSimulatedProvider(100, false), cfgManager, logger)

	var backups *backup.Manager
	if withBackups {
		store, err := backup.NewFilesystemStore(t.TempDir(), logger)
		require.NoError(t, err)
		backups = backup.NewManager(store, repo, cfgManager, nil, logger)
	}

	manager := NewManager(
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

	return &testEnv{manager: manager, repo: repo, cfg: cfgManager, backups: backups}
}

func TestSyncNowPersistsPoints(t *testing.T) {
	env := newTestEnv(t, nil, false)
	now := time.Now().UTC()

	fake := newFakeConnector(model.SourceFitbit, model.MetricHeartRate)
	fake.points[model.MetricHeartRate] = []model.HealthDataPoint{
		fetchedPoint("hr-1", model.SourceFitbit, model.MetricHeartRate, 62, "bpm", now.Add(-2*time.Hour)),
		fetchedPoint("hr-2", model.SourceFitbit, model.MetricHeartRate, 68, "bpm", now.Add(-time.Hour)),
	}
	env.manager.RegisterConnector(fake)

	stats, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalSynced)
	assert.Equal(t, 2, stats.SyncedByMetricType[model.MetricHeartRate])
	assert.Empty(t, stats.Errors)
	assert.Empty(t, stats.Warnings)

	count, err := env.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// points are stamped with the owning user and a sync time
	points, err := env.repo.ListAll(context.Background())
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, "user-1", p.UserID)
		assert.False(t, p.SyncedAt.IsZero())
	}
}

func TestSyncNowIsSingleFlight(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, false)
	now := time.Now().UTC()

	fake := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	fake.fetchDelay = 100 * time.Millisecond
	fake.points[model.MetricSteps] = []model.HealthDataPoint{
		fetchedPoint("s-1", model.SourceGoogleFit, model.MetricSteps, 5000, "count", now.Add(-time.Hour)),
	}
	env.manager.RegisterConnector(fake)

	const callers = 5
	var wg sync.WaitGroup
	var inProgress int
	var mu sync.Mutex

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.manager.SyncNow(context.Background())
			if errors.Is(err, ErrSyncInProgress) {
				mu.Lock()
				inProgress++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// overlapping callers coalesce; the metric is fetched once per completed pass
	completed := callers - inProgress
	assert.Equal(t, completed, fake.calls())
	assert.GreaterOrEqual(t, inProgress, 1)
}

func TestInProgressSyncReturnsPriorStats(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, false)
	now := time.Now().UTC()

	fake := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	fake.points[model.MetricSteps] = []model.HealthDataPoint{
		fetchedPoint("s-1", model.SourceGoogleFit, model.MetricSteps, 5000, "count", now.Add(-time.Hour)),
	}
	env.manager.RegisterConnector(fake)

	first, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalSynced)

	// hold the second pass open and call in while it runs
	fake.fetchDelay = 200 * time.Millisecond
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = env.manager.SyncNow(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	got, err := env.manager.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Equal(t, first, got, "a rejected overlapping call reports the prior pass")
	<-done
}

func TestPartialFailureIsolation(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, false)
	now := time.Now().UTC()

	failing := newFakeConnector(model.SourceFitbit, model.MetricSteps)
	failing.fetchErr = errors.New("rate limited")

	healthy := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	healthy.points[model.MetricSteps] = []model.HealthDataPoint{
		fetchedPoint("s-1", model.SourceGoogleFit, model.MetricSteps, 7000, "count", now.Add(-time.Hour)),
	}

	env.manager.RegisterConnector(failing)
	env.manager.RegisterConnector(healthy)

	stats, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalSynced)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, model.SourceFitbit, stats.Errors[0].Source)
	assert.Equal(t, "fetch_failed", stats.Errors[0].Code)
	assert.Contains(t, stats.Errors[0].Message, "rate limited")
}

func TestUnauthorizedConnectorIsSkipped(t *testing.T) {
	env := newTestEnv(t, nil, false)

	fake := newFakeConnector(model.SourceFitbit, model.MetricSteps)
	fake.authorized = false
	env.manager.RegisterConnector(fake)

	stats, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, fake.calls())
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "not_authorized", stats.Errors[0].Code)
}

func TestInvalidPointsWarnAndAreDropped(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricHeartRate}
	}, false)
	now := time.Now().UTC()

	fake := newFakeConnector(model.SourceFitbit, model.MetricHeartRate)
	fake.points[model.MetricHeartRate] = []model.HealthDataPoint{
		fetchedPoint("hr-good", model.SourceFitbit, model.MetricHeartRate, 70, "bpm", now.Add(-time.Hour)),
		fetchedPoint("hr-bad", model.SourceFitbit, model.MetricHeartRate, 300, "bpm", now.Add(-30*time.Minute)),
	}
	env.manager.RegisterConnector(fake)

	stats, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalSynced)
	require.Len(t, stats.Warnings, 1)
	assert.Equal(t, "validation_failed", stats.Warnings[0].Code)

	count, err := env.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAnomaliesAreFlaggedAndKept(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricHeartRate}
	}, false)
	now := time.Now().UTC()

	// twelve unremarkable readings then a physiologically valid outlier
	var points []model.HealthDataPoint
	for i := 0; i < 12; i++ {
		points = append(points, fetchedPoint(
			fmt.Sprintf("hr-%d", i), model.SourceFitbit, model.MetricHeartRate,
			70+float64(i%3), "bpm", now.Add(-time.Duration(13-i)*time.Minute),
		))
	}
	points = append(points, fetchedPoint("hr-outlier", model.SourceFitbit, model.MetricHeartRate, 200, "bpm", now.Add(-time.Minute)))

	fake := newFakeConnector(model.SourceFitbit, model.MetricHeartRate)
	fake.points[model.MetricHeartRate] = points
	env.manager.RegisterConnector(fake)

	stats, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AnomaliesDetected)
	// the anomalous point is persisted alongside the rest
	assert.Equal(t, 13, stats.TotalSynced)

	stored, err := env.repo.GetPoints(context.Background(), "user-1", model.MetricHeartRate, now.Add(-time.Hour), now)
	require.NoError(t, err)

	var flagged int
	for _, p := range stored {
		if p.Metadata["anomaly"] != "" {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
}

func TestOnlyEnabledMetricsAreFetched(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, false)

	fake := newFakeConnector(model.SourceGoogleFit,
		model.MetricSteps, model.MetricHeartRate, model.MetricWeight)
	env.manager.RegisterConnector(fake)

	_, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.MetricType{model.MetricSteps}, fake.fetchedMetrics)
}

func TestExplicitMetricsScopeThePass(t *testing.T) {
	env := newTestEnv(t, nil, false)

	fake := newFakeConnector(model.SourceGoogleFit,
		model.MetricSteps, model.MetricHeartRate)
	fake.points[model.MetricSteps] = []model.HealthDataPoint{
		fetchedPoint("p1", model.SourceGoogleFit, model.MetricSteps, 5000, "count", time.Now().Add(-time.Hour)),
	}
	env.manager.RegisterConnector(fake)

	stats, err := env.manager.SyncNow(context.Background(), model.MetricSteps)
	require.NoError(t, err)

	assert.Equal(t, []model.MetricType{model.MetricSteps}, fake.fetchedMetrics)
	assert.Equal(t, 1, stats.SyncedByMetricType[model.MetricSteps])
	assert.Zero(t, stats.SyncedByMetricType[model.MetricHeartRate])
}

func TestUnsupportedMetricsAreNotFetched(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps, model.MetricBloodPressure}
	}, false)

	fake := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	env.manager.RegisterConnector(fake)

	_, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.MetricType{model.MetricSteps}, fake.fetchedMetrics)
}

func TestRepeatedSyncDeduplicates(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, false)
	now := time.Now().UTC()

	fake := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	fake.points[model.MetricSteps] = []model.HealthDataPoint{
		fetchedPoint("s-1", model.SourceGoogleFit, model.MetricSteps, 5000, "count", now.Add(-time.Hour)),
	}
	env.manager.RegisterConnector(fake)

	first, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalSynced)

	second, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalSynced)
}

func TestBackupRunsAfterPass(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, true)
	now := time.Now().UTC()

	fake := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	fake.points[model.MetricSteps] = []model.HealthDataPoint{
		fetchedPoint("s-1", model.SourceGoogleFit, model.MetricSteps, 4000, "count", now.Add(-time.Hour)),
	}
	env.manager.RegisterConnector(fake)

	_, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	backups, err := env.backups.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestNoBackupWhenNothingSynced(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, true)

	fake := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	env.manager.RegisterConnector(fake)

	_, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	backups, err := env.backups.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, backups, "an empty pass must not produce a backup")
}

func TestStartRunsImmediatePass(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, false)
	now := time.Now().UTC()

	fake := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	fake.points[model.MetricSteps] = []model.HealthDataPoint{
		fetchedPoint("s-1", model.SourceGoogleFit, model.MetricSteps, 6000, "count", now.Add(-time.Hour)),
	}
	env.manager.RegisterConnector(fake)

	require.NoError(t, env.manager.Start(context.Background()))
	defer env.manager.Stop()

	// The first pass runs on start, not after the first interval
	assert.Eventually(t, func() bool {
		return fake.calls() >= 1 && env.manager.Status().LastSyncTime != nil
	}, 2*time.Second, 10*time.Millisecond)

	count, err := env.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, nil, false)
	ctx := context.Background()

	require.NoError(t, env.manager.Start(ctx))
	assert.ErrorIs(t, env.manager.Start(ctx), ErrAlreadyRunning)

	status := env.manager.Status()
	assert.True(t, status.Running)
	assert.NotNil(t, status.NextSyncTime)

	env.manager.Stop()
	// Stop is idempotent
	env.manager.Stop()

	status = env.manager.Status()
	assert.False(t, status.Running)
	assert.Nil(t, status.NextSyncTime)
}

func TestStatusReflectsLastPass(t *testing.T) {
	env := newTestEnv(t, func(c *config.SyncConfig) {
		c.EnabledMetrics = []model.MetricType{model.MetricSteps}
	}, false)
	now := time.Now().UTC()

	fake := newFakeConnector(model.SourceGoogleFit, model.MetricSteps)
	fake.points[model.MetricSteps] = []model.HealthDataPoint{
		fetchedPoint("s-1", model.SourceGoogleFit, model.MetricSteps, 4000, "count", now.Add(-time.Hour)),
	}
	env.manager.RegisterConnector(fake)

	before := env.manager.Status()
	assert.Nil(t, before.LastSyncTime)

	_, err := env.manager.SyncNow(context.Background())
	require.NoError(t, err)

	after := env.manager.Status()
	require.NotNil(t, after.LastSyncTime)
	assert.Equal(t, 1, after.LastSyncStats.TotalSynced)
	assert.Equal(t, []model.SourcePlatform{model.SourceGoogleFit}, after.ConnectedSources)
}

func TestConnectorRegistration(t *testing.T) {
	env := newTestEnv(t, nil, false)

	fake := newFakeConnector(model.SourceFitbit, model.MetricSteps)
	env.manager.RegisterConnector(fake)

	got, err := env.manager.Connector(model.SourceFitbit)
	require.NoError(t, err)
	assert.Equal(t, model.SourceFitbit, got.Platform())

	env.manager.UnregisterConnector(model.SourceFitbit)
	_, err = env.manager.Connector(model.SourceFitbit)
	assert.ErrorIs(t, err, ErrNotRegistered)
}
