package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inmopost/inmopost/internal/config"
	"github.com/inmopost/inmopost/internal/models"
	"github.com/inmopost/inmopost/internal/service/publisher"
)

// memoryStore implements JobStore in memory with the same due-predicate
// and compare-and-swap semantics as the gorm store.
type memoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.PublicationJob
	audits []models.AuditLog

	fetchErr error
	// fetchBarrier, when set, makes concurrent fetches rendezvous so two
	// runs observe the same due jobs before either locks one.
	fetchBarrier *sync.WaitGroup
}

func newMemoryStore(jobs ...*models.PublicationJob) *memoryStore {
	s := &memoryStore{jobs: make(map[string]*models.PublicationJob)}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *memoryStore) FetchDueJobs(ctx context.Context, now time.Time, limit int) ([]models.PublicationJob, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	s.mu.Lock()
	var due []models.PublicationJob
	for _, job := range s.jobs {
		if job.Status != models.StatusPending {
			continue
		}
		if job.ScheduledAt != nil && job.ScheduledAt.After(now) {
			continue
		}
		if job.NextRetryAt != nil && job.NextRetryAt.After(now) {
			continue
		}
		if job.Retries >= job.MaxRetries {
			continue
		}
		due = append(due, *job)
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].ScheduledAt, due[j].ScheduledAt
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	if s.fetchBarrier != nil {
		s.fetchBarrier.Done()
		s.fetchBarrier.Wait()
	}
	return due, nil
}

func (s *memoryStore) TryLock(ctx context.Context, jobID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.StatusPending {
		return false, nil
	}
	job.Status = models.StatusUploading
	job.UpdatedAt = now
	return true, nil
}

func (s *memoryStore) MarkPublished(ctx context.Context, jobID string, result *publisher.Result, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = models.StatusPublished
	job.PublishedAt = &now
	job.PostID = result.PostID
	job.MediaID = result.MediaID
	job.ErrorLog = ""
	job.ErrorCode = ""
	return nil
}

func (s *memoryStore) ScheduleRetry(ctx context.Context, jobID string, retries int, errMsg, errCode string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = models.StatusPending
	job.Retries = retries
	job.ErrorLog = errMsg
	job.ErrorCode = errCode
	at := nextRetryAt
	job.NextRetryAt = &at
	return nil
}

func (s *memoryStore) MarkFailed(ctx context.Context, jobID string, retries int, errMsg, errCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = models.StatusError
	job.Retries = retries
	job.ErrorLog = errMsg
	job.ErrorCode = errCode
	job.NextRetryAt = nil
	return nil
}

func (s *memoryStore) RecordAudit(ctx context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, *entry)
	return nil
}

func (s *memoryStore) job(id string) models.PublicationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type fakeResolver struct {
	conn *models.MetaConnection
	err  error
}

func (r *fakeResolver) Resolve(ctx context.Context, agencyID string, provider models.Provider) (*models.MetaConnection, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	platform models.PublicationPlatform
	result   *publisher.Result
	err      error
	calls    int
}

func (p *fakePublisher) Platform() models.PublicationPlatform { return p.platform }

func (p *fakePublisher) Publish(ctx context.Context, job *models.PublicationJob, conn *models.MetaConnection) (*publisher.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testJob(id string) *models.PublicationJob {
	return &models.PublicationJob{
		ID:         id,
		AgencyID:   "agency-1",
		PropertyID: "property-1",
		Platform:   models.PlatformInstagramFeed,
		Caption:    "Piso luminoso en el centro",
		MediaURLs:  models.StringArray{"https://cdn.example.com/1.jpg"},
		Status:     models.StatusPending,
		MaxRetries: 3,
	}
}

func activeConnection() *models.MetaConnection {
	return &models.MetaConnection{
		ID:                   "conn-1",
		AgencyID:             "agency-1",
		Provider:             models.ProviderMeta,
		InstagramAccessToken: "ig-token",
		InstagramAccountID:   "1789",
		IsActive:             true,
	}
}

func newTestWorker(t *testing.T, store JobStore, resolver ConnectionResolver, pubs ...publisher.Publisher) *Worker {
	t.Helper()
	cfg := &config.WorkerConfig{
		BatchSize:     10,
		MaxConcurrent: 3,
		MaxRetries:    3,
		RetryBackoff:  []string{"1m", "5m", "15m"},
	}
	w, err := NewWorker(cfg, store, resolver, pubs, zap.NewNop())
	require.NoError(t, err)
	return w
}

func TestRunOnceHappyPath(t *testing.T) {
	store := newMemoryStore(testJob("job-1"))
	pub := &fakePublisher{
		platform: models.PlatformInstagramFeed,
		result:   &publisher.Result{PostID: "post-9", MediaID: "media-9"},
	}
	w := newTestWorker(t, store, &fakeResolver{conn: activeConnection()}, pub)

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Succeeded: 1}, stats)

	job := store.job("job-1")
	assert.Equal(t, models.StatusPublished, job.Status)
	assert.Equal(t, "post-9", job.PostID)
	assert.Equal(t, "media-9", job.MediaID)
	require.NotNil(t, job.PublishedAt)
	assert.Empty(t, job.ErrorLog)
	assert.Zero(t, job.Retries)
}

func TestRunOnceIsIdempotentAfterSuccess(t *testing.T) {
	store := newMemoryStore(testJob("job-1"))
	pub := &fakePublisher{
		platform: models.PlatformInstagramFeed,
		result:   &publisher.Result{PostID: "post-1"},
	}
	w := newTestWorker(t, store, &fakeResolver{conn: activeConnection()}, pub)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	// The published job no longer matches the due predicate
	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, 1, pub.callCount())
}

func TestRunOnceNoActiveConnection(t *testing.T) {
	store := newMemoryStore(testJob("job-1"))
	pub := &fakePublisher{platform: models.PlatformInstagramFeed}
	w := newTestWorker(t, store, &fakeResolver{err: ErrNotConfigured}, pub)

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)

	job := store.job("job-1")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Equal(t, "No hay conexión activa con Meta para esta agencia", job.ErrorLog)
	// Configuration errors never consume a retry
	assert.Zero(t, job.Retries)
	assert.Zero(t, pub.callCount())
}

func TestRunOnceExpiredToken(t *testing.T) {
	store := newMemoryStore(testJob("job-1"))
	pub := &fakePublisher{platform: models.PlatformInstagramFeed}
	w := newTestWorker(t, store, &fakeResolver{err: ErrTokenExpired}, pub)

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)

	job := store.job("job-1")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Equal(t, "Token de Meta expirado. Por favor reconecta tu cuenta.", job.ErrorLog)
	assert.Zero(t, job.Retries)
}

func TestRunOncePublishFailureSchedulesRetry(t *testing.T) {
	store := newMemoryStore(testJob("job-1"))
	pub := &fakePublisher{
		platform: models.PlatformInstagramFeed,
		err:      errors.New("Meta API Error 4: rate limit"),
	}
	w := newTestWorker(t, store, &fakeResolver{conn: activeConnection()}, pub)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)

	job := store.job("job-1")
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, 1, job.Retries)
	assert.Equal(t, "Meta API Error 4: rate limit", job.ErrorLog)
	require.NotNil(t, job.NextRetryAt)
	assert.Equal(t, now.Add(time.Minute), *job.NextRetryAt)

	// The failed attempt leaves an audit trail
	require.Len(t, store.audits, 1)
	assert.Equal(t, "agency-1", store.audits[0].AgencyID)
	assert.Equal(t, "publish", store.audits[0].Action)
	assert.Equal(t, "job-1", store.audits[0].EntityID)
}

func TestRetriesExhaustJobGoesTerminal(t *testing.T) {
	store := newMemoryStore(testJob("job-1"))
	pub := &fakePublisher{
		platform: models.PlatformInstagramFeed,
		err:      errors.New("Meta API Error 100: invalid media"),
	}
	w := newTestWorker(t, store, &fakeResolver{conn: activeConnection()}, pub)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	// 1st failure: +1m, 2nd: +5m, 3rd exhausts retries
	expectedDelays := []time.Duration{time.Minute, 5 * time.Minute}
	for attempt, delay := range expectedDelays {
		stats, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)

		job := store.job("job-1")
		assert.Equal(t, models.StatusPending, job.Status)
		assert.Equal(t, attempt+1, job.Retries)
		require.NotNil(t, job.NextRetryAt)
		assert.Equal(t, now.Add(delay), *job.NextRetryAt)

		now = job.NextRetryAt.Add(time.Second)
	}

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)

	job := store.job("job-1")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Equal(t, 3, job.Retries)
	assert.Nil(t, job.NextRetryAt)
	assert.Equal(t, 3, pub.callCount())
	assert.Len(t, store.audits, 3)

	// Terminal jobs never become due again
	now = now.Add(24 * time.Hour)
	stats, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestFetchDueJobsHonorsSchedule(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	scheduled := testJob("job-future")
	scheduled.ScheduledAt = &future
	ready := testJob("job-past")
	ready.ScheduledAt = &past
	unscheduled := testJob("job-unscheduled")
	published := testJob("job-published")
	published.Status = models.StatusPublished

	store := newMemoryStore(scheduled, ready, unscheduled, published)

	due, err := store.FetchDueJobs(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Unscheduled jobs sort first
	assert.Equal(t, "job-unscheduled", due[0].ID)
	assert.Equal(t, "job-past", due[1].ID)
}

func TestRunOnceStoreFailureIsFatal(t *testing.T) {
	store := newMemoryStore()
	store.fetchErr = errors.New("connection refused")
	pub := &fakePublisher{platform: models.PlatformInstagramFeed}
	w := newTestWorker(t, store, &fakeResolver{conn: activeConnection()}, pub)

	stats, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestTryLockIsExclusive(t *testing.T) {
	store := newMemoryStore(testJob("job-1"))

	const attempts = 8
	results := make([]bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locked, err := store.TryLock(context.Background(), "job-1", time.Now())
			assert.NoError(t, err)
			results[i] = locked
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, locked := range results {
		if locked {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestConcurrentRunsPublishExactlyOnce(t *testing.T) {
	store := newMemoryStore(testJob("job-1"))
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	store.fetchBarrier = barrier

	pub := &fakePublisher{
		platform: models.PlatformInstagramFeed,
		result:   &publisher.Result{PostID: "post-1"},
	}
	resolver := &fakeResolver{conn: activeConnection()}
	w1 := newTestWorker(t, store, resolver, pub)
	w2 := newTestWorker(t, store, resolver, pub)

	var wg sync.WaitGroup
	var stats1, stats2 Stats
	wg.Add(2)
	go func() {
		defer wg.Done()
		stats1, _ = w1.RunOnce(context.Background())
	}()
	go func() {
		defer wg.Done()
		stats2, _ = w2.RunOnce(context.Background())
	}()
	wg.Wait()

	// Both runs fetched the job, exactly one locked and published it
	assert.Equal(t, 1, stats1.Succeeded+stats2.Succeeded)
	assert.Equal(t, 1, stats1.Skipped+stats2.Skipped)
	assert.Equal(t, 0, stats1.Failed+stats2.Failed)
	assert.Equal(t, 1, pub.callCount())

	job := store.job("job-1")
	assert.Equal(t, models.StatusPublished, job.Status)

	// Lost lock races leave no audit entries
	assert.Empty(t, store.audits)
}

func TestRunOnceProcessesWindowsInOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var jobs []*models.PublicationJob
	for i := 0; i < 7; i++ {
		job := testJob(string(rune('a' + i)))
		at := now.Add(time.Duration(i-10) * time.Minute)
		job.ScheduledAt = &at
		jobs = append(jobs, job)
	}
	store := newMemoryStore(jobs...)

	pub := &fakePublisher{
		platform: models.PlatformInstagramFeed,
		result:   &publisher.Result{PostID: "post-1"},
	}
	w := newTestWorker(t, store, &fakeResolver{conn: activeConnection()}, pub)
	w.now = func() time.Time { return now }

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 7, Succeeded: 7}, stats)
	assert.Equal(t, 7, pub.callCount())
}

func TestUnknownPlatformFailsTerminally(t *testing.T) {
	job := testJob("job-1")
	job.Platform = models.PlatformFacebookReel
	store := newMemoryStore(job)
	pub := &fakePublisher{platform: models.PlatformInstagramFeed}
	w := newTestWorker(t, store, &fakeResolver{conn: activeConnection()}, pub)

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)

	got := store.job("job-1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.ErrorLog, "facebook_reel")
}
