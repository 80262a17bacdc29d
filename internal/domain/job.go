package domain

// JobStatus is the lifecycle state of an optimization job.
type JobStatus string

// Job status constants.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// OptimizationJob is one unit of work in the distributed queue.
// Corresponds to optimization_jobs table.
type OptimizationJob struct {
	ID            string                // UUID
	Parameters    []byte                // opaque serialized parameter-space spec
	Priority      int                   // lower value is more urgent
	Status        JobStatus             // queued | running | completed | failed | cancelled
	SubmittedBy   string                // submitter identity
	WorkerID      string                // owning worker, empty unless running
	CreatedAt     int64                 // Unix ms
	StartedAt     int64                 // Unix ms of the latest claim, 0 if never claimed
	LastHeartbeat int64                 // Unix ms, 0 unless claimed
	FinishedAt    int64                 // Unix ms, 0 unless terminal
	Progress      *OptimizationProgress // latest snapshot reported by the worker (nullable)
	ResultPath    string                // opaque result location
	ErrorMessage  string                // failure message
}

// Clone returns a deep copy.
func (j *OptimizationJob) Clone() *OptimizationJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.Parameters != nil {
		c.Parameters = append([]byte(nil), j.Parameters...)
	}
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	return &c
}

// QueueStatus aggregates the queue by job status.
type QueueStatus struct {
	Queued          int
	Running         int
	Completed       int
	Failed          int
	Cancelled       int
	OldestQueuedAge int64 // ms since the oldest queued job was created, 0 if none
}

// Total returns the number of jobs in the queue.
func (s QueueStatus) Total() int {
	return s.Queued + s.Running + s.Completed + s.Failed + s.Cancelled
}
