package resultcache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a background query job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is a point-in-time snapshot of one background execution.
type Job struct {
	ID          string     `json:"id"`
	SpecHash    string     `json:"specHash"`
	SubmittedBy string     `json:"submittedBy,omitempty"`
	Status      JobStatus  `json:"status"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Work executes one compiled query and returns its result.
type Work func(ctx context.Context) (any, error)

// Runner executes query jobs in background goroutines and tracks their
// status. Completed results are also written to the cache under the job's
// spec hash.
type Runner struct {
	cache     *Cache
	resultTTL time.Duration

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewRunner returns a runner that publishes finished results to cache with
// the given TTL.
func NewRunner(cache *Cache, resultTTL time.Duration) *Runner {
	return &Runner{
		cache:     cache,
		resultTTL: resultTTL,
		jobs:      make(map[string]*Job),
	}
}

// Enqueue registers a job for the given spec hash and starts it. The
// submitter identity is recorded on the job for audit. The returned snapshot
// reflects the pending state; poll Status with the job ID for progress.
func (r *Runner) Enqueue(ctx context.Context, specHash, submittedBy string, work Work) Job {
	job := &Job{
		ID:          uuid.NewString(),
		SpecHash:    specHash,
		SubmittedBy: submittedBy,
		Status:      JobPending,
		SubmittedAt: time.Now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, job.ID, work)

	return *job
}

func (r *Runner) run(ctx context.Context, id string, work Work) {
	defer r.wg.Done()

	r.transition(id, func(j *Job) {
		j.Status = JobRunning
	})

	result, err := work(ctx)
	finished := time.Now()

	r.transition(id, func(j *Job) {
		j.FinishedAt = &finished
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
			return
		}
		j.Status = JobDone
		j.Result = result
		if r.cache != nil && j.SpecHash != "" {
			r.cache.Put(j.SpecHash, result, r.resultTTL)
		}
	})
}

func (r *Runner) transition(id string, update func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		update(job)
	}
}

// Status returns a snapshot of the job, if known.
func (r *Runner) Status(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Wait blocks until every enqueued job has finished. Shutdown hook.
func (r *Runner) Wait() {
	r.wg.Wait()
}
