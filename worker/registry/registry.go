package registry

import (
	"sync"
)

// Job is the handle of a background transcode. It is live until Finish is
// called for it.
type Job struct {
	Key  string
	done chan struct{}
}

// Done is closed once the job reached a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Registry maps filenames to their task status and tracks the single live
// job per filename. Both maps are guarded by one mutex so that the
// check-and-register of a job is atomic with status reads and writes.
type Registry struct {
	mu       sync.Mutex
	statuses map[string]*TaskStatus
	active   map[string]*Job
}

func New() *Registry {
	return &Registry{
		statuses: make(map[string]*TaskStatus),
		active:   make(map[string]*Job),
	}
}

func (r *Registry) getOrCreateLocked(key string) *TaskStatus {
	st, ok := r.statuses[key]
	if !ok {
		st = newTaskStatus(key)
		r.statuses[key] = st
	}
	return st
}

// GetOrCreate returns a snapshot of the status for key, creating it on first
// touch.
func (r *Registry) GetOrCreate(key string) TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.getOrCreateLocked(key)
}

// Update applies mutate to the status for key and returns the new snapshot.
func (r *Registry) Update(key string, mutate func(*TaskStatus)) TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.getOrCreateLocked(key)
	mutate(st)
	return *st
}

// Active returns the live job for key, or nil.
func (r *Registry) Active(key string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[key]
}

// Begin registers a new job for key unless one is already live, in which
// case the existing handle is returned with created=false. A new job resets
// the transcode part of the status to PENDING.
func (r *Registry) Begin(key string) (job *Job, created bool) {
	job, created, _ = r.BeginIf(key, nil)
	return job, created
}

// BeginIf is Begin with a precondition. check runs under the registry lock,
// and only when no job is live for key, so its view of the world cannot be
// invalidated by a job finishing in between. A non-nil error from check
// aborts the registration and is returned as is; changes check made to the
// status are kept.
func (r *Registry) BeginIf(key string, check func(*TaskStatus) error) (job *Job, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[key]; ok {
		return existing, false, nil
	}

	st := r.getOrCreateLocked(key)
	if check != nil {
		if err := check(st); err != nil {
			return nil, false, err
		}
	}

	job = &Job{Key: key, done: make(chan struct{})}
	r.active[key] = job

	st.TranscodeStatus = TranscodePending
	st.FramesDone = nil
	st.TotalFrames = nil
	st.Error = nil

	return job, true, nil
}

// Finish applies the terminal mutation, releases the job handle and closes
// its Done channel. Calling Finish twice for the same job is a no-op.
func (r *Registry) Finish(job *Job, mutate func(*TaskStatus)) TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.getOrCreateLocked(job.Key)
	if r.active[job.Key] != job {
		return *st
	}

	mutate(st)
	delete(r.active, job.Key)
	close(job.done)
	return *st
}

// Len returns the number of known statuses and live jobs.
func (r *Registry) Len() (statuses, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses), len(r.active)
}
