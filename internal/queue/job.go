package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/beatvault/backend/internal/models"
)

// ProgressIndeterminate is reported while a job's input size is unknown.
const ProgressIndeterminate = -1

// Job is the in-memory record of an archival job. While the job is live this
// is the canonical state; the jobs table is the durable audit trail. The
// claiming worker is the sole writer of progress and the terminal state.
type Job struct {
	ID             string
	DirName        string
	SourcePath     string
	AccountID      uint
	AccountName    string
	EstimatedBytes int64
	CreatedAt      time.Time

	status   int32 // models.JobStatus, see statusCode
	progress int32 // percent, ProgressIndeterminate while unknown

	mu         sync.Mutex
	errMsg     string
	finished   time.Time
	cancel     func() // set while active
	cancelWant bool   // cancel requested before the worker installed cancel
	done       chan struct{}
	doneOne    sync.Once
}

const (
	statusQueued int32 = iota
	statusActive
	statusCompleted
	statusFailed
)

func statusOf(code int32) models.JobStatus {
	switch code {
	case statusQueued:
		return models.JobStatusQueued
	case statusActive:
		return models.JobStatusActive
	case statusCompleted:
		return models.JobStatusCompleted
	default:
		return models.JobStatusFailed
	}
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() models.JobStatus {
	return statusOf(atomic.LoadInt32(&j.status))
}

// Progress returns the latest advisory progress percentage, or
// ProgressIndeterminate when the input size is unknown.
func (j *Job) Progress() int {
	return int(atomic.LoadInt32(&j.progress))
}

// Err returns the failure message. Reliable once Done is closed.
func (j *Job) Err() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errMsg
}

// Done is closed exactly once, when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	s := atomic.LoadInt32(&j.status)
	return s == statusCompleted || s == statusFailed
}

// transition moves the job from one state to another; it returns false when
// another writer got there first.
func (j *Job) transition(from, to int32) bool {
	return atomic.CompareAndSwapInt32(&j.status, from, to)
}

// setProgress records p if it advances the current value. Progress never
// moves backwards and never exceeds 100.
func (j *Job) setProgress(p int) {
	if p > 100 {
		p = 100
	}
	v := int32(p)
	for {
		cur := atomic.LoadInt32(&j.progress)
		if cur != ProgressIndeterminate && v <= cur {
			return
		}
		if atomic.CompareAndSwapInt32(&j.progress, cur, v) {
			return
		}
	}
}

func (j *Job) setError(msg string) {
	j.mu.Lock()
	j.errMsg = msg
	j.mu.Unlock()
}

func (j *Job) setCancel(fn func()) {
	j.mu.Lock()
	j.cancel = fn
	want := j.cancelWant
	j.mu.Unlock()
	// Cancellation raced the worker's claim; honor it now
	if want {
		fn()
	}
}

func (j *Job) callCancel() {
	j.mu.Lock()
	j.cancelWant = true
	fn := j.cancel
	j.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (j *Job) finishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

func (j *Job) finish() {
	j.doneOne.Do(func() {
		j.mu.Lock()
		j.finished = time.Now()
		j.mu.Unlock()
		close(j.done)
	})
}
