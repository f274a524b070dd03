package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beatvault/backend/internal/archive"
	"github.com/beatvault/backend/internal/database"
	"github.com/beatvault/backend/internal/models"
	"github.com/beatvault/backend/internal/storage"
)

var (
	// ErrAccountBusy rejects a second in-flight job for the same account.
	ErrAccountBusy = errors.New("account already has a download in progress")
	// ErrQueueFull rejects submissions while the dispatch queue is at capacity.
	ErrQueueFull = errors.New("download queue is full")
	// ErrUnknownJob is returned for job ids the manager does not know.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobFinished rejects cancellation of a job that already finished.
	ErrJobFinished = errors.New("job already finished")
)

// Options configures a Manager.
type Options struct {
	Workers          int
	QueueDepth       int
	JobTimeout       time.Duration
	ArtifactTTL      time.Duration
	JobRetention     time.Duration // how long finished jobs stay in the registry
	ArtifactsDir     string
	CompressionLevel int
	Mirror           storage.MirrorConfig
}

// Manager owns the archival job registry and the worker pool that drains it.
type Manager struct {
	db      *gorm.DB
	opts    Options
	builder *archive.Builder

	mu   sync.Mutex
	jobs map[string]*Job

	dispatch chan *Job
	stopChan chan struct{}
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewManager(db *gorm.DB, opts Options) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 1
	}
	if opts.JobRetention <= 0 {
		opts.JobRetention = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:         db,
		opts:       opts,
		builder:    &archive.Builder{Level: opts.CompressionLevel},
		jobs:       make(map[string]*Job),
		dispatch:   make(chan *Job, opts.QueueDepth),
		stopChan:   make(chan struct{}),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Start launches the worker pool
func (m *Manager) Start() {
	log.Printf("Queue: starting %d archive workers (queue depth %d)", m.opts.Workers, m.opts.QueueDepth)
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.wg.Add(1)
	go m.evictLoop()
}

// Stop cancels active jobs and waits for the workers to drain
func (m *Manager) Stop() {
	close(m.stopChan)
	m.rootCancel()
	m.wg.Wait()
	log.Println("Queue: stopped")
}

// Enqueue registers a new job and hands it to the dispatch queue. The caller
// has already resolved the source path, estimated its size and pre-charged
// the account's tally.
func (m *Manager) Enqueue(dirName, sourcePath string, accountID uint, accountName string, estimatedBytes int64) (*Job, error) {
	job := &Job{
		ID:             uuid.NewString(),
		DirName:        dirName,
		SourcePath:     sourcePath,
		AccountID:      accountID,
		AccountName:    accountName,
		EstimatedBytes: estimatedBytes,
		CreatedAt:      time.Now(),
		progress:       ProgressIndeterminate,
		done:           make(chan struct{}),
	}

	m.mu.Lock()
	for _, other := range m.jobs {
		if other.AccountID == accountID && !other.Terminal() {
			m.mu.Unlock()
			return nil, ErrAccountBusy
		}
	}
	m.jobs[job.ID] = job
	m.mu.Unlock()

	// The durable row must exist before a worker can claim the job, or a
	// fast worker's terminal update lands on zero rows and the job stays
	// "queued" on disk forever.
	if m.db != nil {
		row := models.Job{
			ID:         job.ID,
			DirName:    dirName,
			SourcePath: sourcePath,
			AccountID:  accountID,
			Status:     models.JobStatusQueued,
			CreatedAt:  job.CreatedAt,
		}
		if err := m.db.Create(&row).Error; err != nil {
			log.Printf("Queue: failed to persist job %s: %v", job.ID, err)
		}
	}

	select {
	case m.dispatch <- job:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		if m.db != nil {
			if err := m.db.Delete(&models.Job{}, "id = ?", job.ID).Error; err != nil {
				log.Printf("Queue: failed to remove rejected job %s: %v", job.ID, err)
			}
		}
		return nil, ErrQueueFull
	}

	m.publish(job, "queued")
	return job, nil
}

// Get returns the in-memory job for id.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// Cancel aborts a job. Queued jobs are dropped before dispatch; active jobs
// get their context cancelled and fail through the worker's cleanup path.
func (m *Manager) Cancel(id string) error {
	job, ok := m.Get(id)
	if !ok {
		return ErrUnknownJob
	}

	// Queued: claim it before a worker does
	if job.transition(statusQueued, statusFailed) {
		job.setError("cancelled")
		m.refund(job)
		m.persistTerminal(job)
		m.publish(job, "failed")
		job.finish()
		return nil
	}

	if job.Terminal() {
		return ErrJobFinished
	}

	job.callCancel()
	return nil
}

func (m *Manager) evictLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.evictFinished(time.Now())
		}
	}
}

// evictFinished drops terminal jobs that finished more than the retention
// window ago. Their status remains queryable through the jobs table.
func (m *Manager) evictFinished(now time.Time) {
	cutoff := now.Add(-m.opts.JobRetention)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, job := range m.jobs {
		if !job.Terminal() {
			continue
		}
		if finished := job.finishedAt(); !finished.IsZero() && finished.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopChan:
			return
		case job := <-m.dispatch:
			// Single receive plus this CAS means a job is claimed at
			// most once; a cancelled queued job fails the CAS here.
			if !job.transition(statusQueued, statusActive) {
				continue
			}
			m.run(job)
		}
	}
}

func (m *Manager) run(job *Job) {
	var ctx context.Context
	var cancel context.CancelFunc
	if m.opts.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(m.rootCtx, m.opts.JobTimeout)
	} else {
		ctx, cancel = context.WithCancel(m.rootCtx)
	}
	job.setCancel(cancel)
	defer cancel()

	if m.db != nil {
		err := m.db.Model(&models.Job{}).Where("id = ?", job.ID).
			Update("status", models.JobStatusActive).Error
		if err != nil {
			log.Printf("Queue: failed to persist job %s: %v", job.ID, err)
		}
	}
	if job.EstimatedBytes > 0 {
		job.setProgress(0)
	}

	destPath := filepath.Join(m.opts.ArtifactsDir, storage.ArtifactFileName(job.DirName, job.AccountID, job.ID))

	err := m.builder.Build(ctx, job.SourcePath, destPath, job.EstimatedBytes, func(p float64) {
		job.setProgress(int(p))
		m.publish(job, "progress")
	})
	if err != nil {
		m.fail(job, err.Error())
		return
	}

	m.complete(job, destPath)
}

func (m *Manager) complete(job *Job, destPath string) {
	info, err := os.Stat(destPath)
	if err != nil {
		m.fail(job, fmt.Sprintf("artifact missing after build: %v", err))
		return
	}

	if m.db != nil {
		record := models.ArtifactRecord{
			JobID:     job.ID,
			DirName:   job.DirName,
			AccountID: job.AccountID,
			SizeBytes: info.Size(),
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(m.opts.ArtifactTTL),
		}
		if err := m.db.Create(&record).Error; err != nil {
			// Keep the record/file invariant: no row, no file
			os.Remove(destPath)
			m.fail(job, fmt.Sprintf("failed to record artifact: %v", err))
			return
		}
	}

	job.setProgress(100)
	job.transition(statusActive, statusCompleted)
	m.persistTerminal(job)
	m.publish(job, "completed")
	job.finish()

	log.Printf("Queue: job %s completed, artifact %s (%d bytes)", job.ID, filepath.Base(destPath), info.Size())

	if m.opts.Mirror.Enabled() {
		if err := storage.MirrorArtifact(m.opts.Mirror, destPath, filepath.Base(destPath)); err != nil {
			log.Printf("Queue: mirror of %s failed: %v", filepath.Base(destPath), err)
		}
	}
}

func (m *Manager) fail(job *Job, msg string) {
	job.setError(msg)
	m.refund(job)
	job.transition(statusActive, statusFailed)
	m.persistTerminal(job)
	m.publish(job, "failed")
	job.finish()

	log.Printf("Queue: job %s failed: %s", job.ID, msg)
}

// refund returns the pre-charged estimate to the account's tally, floored
// at zero.
func (m *Manager) refund(job *Job) {
	if m.db == nil || job.EstimatedBytes <= 0 {
		return
	}
	err := m.db.Exec(
		"UPDATE quota_tallies SET bytes_out_used = CASE WHEN bytes_out_used > ? THEN bytes_out_used - ? ELSE 0 END WHERE name = ?",
		job.EstimatedBytes, job.EstimatedBytes, job.AccountName,
	).Error
	if err != nil {
		log.Printf("Queue: failed to refund quota for %s: %v", job.AccountName, err)
	}
}

func (m *Manager) persistTerminal(job *Job) {
	if m.db == nil {
		return
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":      job.Status(),
		"progress":    job.Progress(),
		"error":       job.Err(),
		"finished_at": &now,
	}
	if err := m.db.Model(&models.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		log.Printf("Queue: failed to persist job %s: %v", job.ID, err)
	}
}

func (m *Manager) publish(job *Job, event string) {
	ev := database.JobEvent{
		JobID:     job.ID,
		AccountID: job.AccountID,
		Event:     event,
		Progress:  job.Progress(),
	}
	if err := database.PublishJobEvent(ev); err != nil {
		log.Printf("Queue: failed to publish %s event for job %s: %v", event, job.ID, err)
	}
}
