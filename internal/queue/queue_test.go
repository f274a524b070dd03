package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beatvault/backend/internal/models"
	"github.com/beatvault/backend/internal/storage"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func makeSource(t *testing.T, files int, size int) string {
	t.Helper()
	src := t.TempDir()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	for i := 0; i < files; i++ {
		name := filepath.Join(src, "take-"+string(rune('a'+i))+".wav")
		require.NoError(t, os.WriteFile(name, data, 0o644))
	}
	return src
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not finish", job.ID)
	}
}

func testOptions(t *testing.T) Options {
	return Options{
		Workers:      2,
		QueueDepth:   8,
		JobTimeout:   time.Minute,
		ArtifactTTL:  7 * 24 * time.Hour,
		ArtifactsDir: t.TempDir(),
	}
}

func TestEnqueueToCompletion(t *testing.T) {
	db := openTestDB(t)
	src := makeSource(t, 3, 4096)
	opts := testOptions(t)

	m := NewManager(db, opts)
	m.Start()
	defer m.Stop()

	job, err := m.Enqueue("summer-pack", src, 7, "acct7", 3*4096)
	require.NoError(t, err)
	waitDone(t, job)

	assert.Equal(t, models.JobStatusCompleted, job.Status())
	assert.Equal(t, 100, job.Progress())
	assert.Empty(t, job.Err())

	wantName := storage.ArtifactFileName("summer-pack", 7, job.ID)
	info, err := os.Stat(filepath.Join(opts.ArtifactsDir, wantName))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	var record models.ArtifactRecord
	require.NoError(t, db.Where("job_id = ?", job.ID).First(&record).Error)
	assert.Equal(t, "summer-pack", record.DirName)
	assert.Equal(t, uint(7), record.AccountID)
	assert.Equal(t, info.Size(), record.SizeBytes)
	assert.WithinDuration(t, time.Now().Add(opts.ArtifactTTL), record.ExpiresAt, time.Minute)

	var row models.Job
	require.NoError(t, db.First(&row, "id = ?", job.ID).Error)
	assert.Equal(t, models.JobStatusCompleted, row.Status)
	require.NotNil(t, row.FinishedAt)

	// Terminal jobs free the account for the next submission
	next, err := m.Enqueue("summer-pack", src, 7, "acct7", 3*4096)
	require.NoError(t, err)
	waitDone(t, next)
	assert.Equal(t, models.JobStatusCompleted, next.Status())
}

func TestEnqueueRejectsBusyAccount(t *testing.T) {
	m := NewManager(nil, testOptions(t))
	// Workers never started: the first job stays queued

	_, err := m.Enqueue("pack-a", t.TempDir(), 1, "acct1", 100)
	require.NoError(t, err)

	_, err = m.Enqueue("pack-b", t.TempDir(), 1, "acct1", 100)
	assert.ErrorIs(t, err, ErrAccountBusy)

	_, err = m.Enqueue("pack-c", t.TempDir(), 2, "acct2", 100)
	assert.NoError(t, err)
}

func TestEnqueueRejectsFullQueue(t *testing.T) {
	db := openTestDB(t)
	opts := testOptions(t)
	opts.QueueDepth = 1
	m := NewManager(db, opts)

	_, err := m.Enqueue("pack-a", t.TempDir(), 1, "acct1", 100)
	require.NoError(t, err)

	_, err = m.Enqueue("pack-b", t.TempDir(), 2, "acct2", 100)
	assert.ErrorIs(t, err, ErrQueueFull)

	// A rejected submission leaves no durable row behind
	var count int64
	db.Model(&models.Job{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestTerminalRowNotStaleWhenWorkerOutpacesEnqueue(t *testing.T) {
	db := openTestDB(t)

	// Stall only the jobs INSERT so the worker can claim and finish the
	// job while the submission path is still persisting it
	err := db.Callback().Create().Before("gorm:create").Register("stall_jobs_insert", func(tx *gorm.DB) {
		if tx.Statement.Table == "jobs" {
			time.Sleep(300 * time.Millisecond)
		}
	})
	require.NoError(t, err)

	m := NewManager(db, testOptions(t))
	m.Start()
	defer m.Stop()

	src := makeSource(t, 1, 256)
	job, enqErr := m.Enqueue("pack", src, 8, "acct8", 256)
	require.NoError(t, enqErr)
	waitDone(t, job)
	require.Equal(t, models.JobStatusCompleted, job.Status())

	var row models.Job
	require.NoError(t, db.First(&row, "id = ?", job.ID).Error)
	assert.Equal(t, models.JobStatusCompleted, row.Status)
}

func TestEvictFinishedJobs(t *testing.T) {
	opts := testOptions(t)
	opts.JobRetention = time.Minute
	m := NewManager(nil, opts)
	m.Start()
	defer m.Stop()

	job, err := m.Enqueue("pack", makeSource(t, 1, 128), 9, "acct9", 128)
	require.NoError(t, err)
	waitDone(t, job)

	// Inside the retention window the job stays queryable
	m.evictFinished(time.Now())
	_, ok := m.Get(job.ID)
	assert.True(t, ok)

	m.evictFinished(time.Now().Add(2 * time.Minute))
	_, ok = m.Get(job.ID)
	assert.False(t, ok)
}

func TestCancelQueuedJobRefundsTally(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Create(&models.QuotaTally{Name: "acct3", BytesOutUsed: 5000}).Error)

	m := NewManager(db, testOptions(t))
	// No workers: the job cannot be claimed before we cancel it

	job, err := m.Enqueue("pack", t.TempDir(), 3, "acct3", 3000)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(job.ID))
	waitDone(t, job)

	assert.Equal(t, models.JobStatusFailed, job.Status())
	assert.Equal(t, "cancelled", job.Err())

	var tally models.QuotaTally
	require.NoError(t, db.First(&tally, "name = ?", "acct3").Error)
	assert.Equal(t, int64(2000), tally.BytesOutUsed)

	assert.ErrorIs(t, m.Cancel(job.ID), ErrJobFinished)
	assert.ErrorIs(t, m.Cancel("no-such-job"), ErrUnknownJob)
}

func TestFailedJobRefundsTallyFlooredAtZero(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Create(&models.QuotaTally{Name: "acct4", BytesOutUsed: 1000}).Error)

	m := NewManager(db, testOptions(t))
	m.Start()
	defer m.Stop()

	missing := filepath.Join(t.TempDir(), "gone")
	job, err := m.Enqueue("pack", missing, 4, "acct4", 3000)
	require.NoError(t, err)
	waitDone(t, job)

	assert.Equal(t, models.JobStatusFailed, job.Status())
	assert.NotEmpty(t, job.Err())

	var tally models.QuotaTally
	require.NoError(t, db.First(&tally, "name = ?", "acct4").Error)
	assert.Equal(t, int64(0), tally.BytesOutUsed)

	var row models.Job
	require.NoError(t, db.First(&row, "id = ?", job.ID).Error)
	assert.Equal(t, models.JobStatusFailed, row.Status)
}

func TestTimedOutJobFailsAndLeavesNoArtifact(t *testing.T) {
	opts := testOptions(t)
	opts.JobTimeout = time.Nanosecond
	m := NewManager(nil, opts)
	m.Start()
	defer m.Stop()

	src := makeSource(t, 2, 4096)
	job, err := m.Enqueue("pack", src, 5, "acct5", 2*4096)
	require.NoError(t, err)
	waitDone(t, job)

	assert.Equal(t, models.JobStatusFailed, job.Status())

	name := storage.ArtifactFileName("pack", 5, job.ID)
	_, statErr := os.Stat(filepath.Join(opts.ArtifactsDir, name))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProgressIndeterminateWithoutEstimate(t *testing.T) {
	m := NewManager(nil, testOptions(t))

	job, err := m.Enqueue("pack", makeSource(t, 1, 128), 6, "acct6", 0)
	require.NoError(t, err)
	assert.Equal(t, ProgressIndeterminate, job.Progress())

	m.Start()
	defer m.Stop()
	waitDone(t, job)

	assert.Equal(t, models.JobStatusCompleted, job.Status())
	assert.Equal(t, 100, job.Progress())
}

func TestConcurrentJobsSameSource(t *testing.T) {
	src := makeSource(t, 2, 2048)
	opts := testOptions(t)
	m := NewManager(nil, opts)
	m.Start()
	defer m.Stop()

	a, err := m.Enqueue("pack", src, 10, "acct10", 2*2048)
	require.NoError(t, err)
	b, err := m.Enqueue("pack", src, 11, "acct11", 2*2048)
	require.NoError(t, err)

	waitDone(t, a)
	waitDone(t, b)

	assert.Equal(t, models.JobStatusCompleted, a.Status())
	assert.Equal(t, models.JobStatusCompleted, b.Status())

	infoA, err := os.Stat(filepath.Join(opts.ArtifactsDir, storage.ArtifactFileName("pack", 10, a.ID)))
	require.NoError(t, err)
	infoB, err := os.Stat(filepath.Join(opts.ArtifactsDir, storage.ArtifactFileName("pack", 11, b.ID)))
	require.NoError(t, err)
	assert.Equal(t, infoA.Size(), infoB.Size())
}
