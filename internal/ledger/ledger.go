// Package ledger tracks the lifecycle of training jobs for the lifetime of the
// process. All access goes through the Ledger methods, which take an internal
// lock, so readers always see a whole update or none of it.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type State string

const (
	StateQueued    State = "queued"
	StateTraining  State = "training"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const (
	MinProgress = 0.0
	MaxProgress = 100.0

	QueuedMessage = "Job queued"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrExists            = errors.New("job already exists")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInconsistent      = errors.New("model id must be set exactly when a job completes")
)

var transitions = map[State]map[State]bool{
	StateQueued:   {StateQueued: true, StateTraining: true, StateFailed: true},
	StateTraining: {StateTraining: true, StateCompleted: true, StateFailed: true},
}

type Snapshot struct {
	JobID     string
	State     State
	Progress  float64
	Message   string
	ModelID   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Update carries the fields to change; nil fields are left alone.
type Update struct {
	State    *State
	Progress *float64
	Message  *string
	ModelID  *string
}

func (u Update) WithState(s State) Update {
	u.State = &s
	return u
}

func (u Update) WithProgress(p float64) Update {
	u.Progress = &p
	return u
}

func (u Update) WithMessage(m string) Update {
	u.Message = &m
	return u
}

func (u Update) WithModelID(id string) Update {
	u.ModelID = &id
	return u
}

type Ledger struct {
	mu   sync.RWMutex
	jobs map[string]*Snapshot
	now  func() time.Time
}

func New() *Ledger {
	return &Ledger{jobs: make(map[string]*Snapshot), now: time.Now}
}

func (l *Ledger) Create(jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.jobs[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, jobID)
	}

	now := l.now().UTC()
	l.jobs[jobID] = &Snapshot{
		JobID:     jobID,
		State:     StateQueued,
		Progress:  MinProgress,
		Message:   QueuedMessage,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return nil
}

// Update applies every field of u as one step and returns the resulting
// snapshot. Progress is clamped to [0, 100] and never moves backwards.
func (l *Ledger) Update(jobID string, u Update) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	if job.State.Terminal() {
		return Snapshot{}, fmt.Errorf("%w: %s is %s", ErrTerminal, jobID, job.State)
	}

	next := *job

	if u.State != nil {
		if !transitions[job.State][*u.State] {
			return Snapshot{}, fmt.Errorf(
				"%w: %s -> %s",
				ErrInvalidTransition,
				job.State,
				*u.State,
			)
		}
		next.State = *u.State
	}

	if (next.State == StateCompleted) != (u.ModelID != nil) {
		return Snapshot{}, ErrInconsistent
	}

	if u.ModelID != nil {
		id := *u.ModelID
		next.ModelID = &id
	}

	if u.Progress != nil {
		next.Progress = max(job.Progress, clamp(*u.Progress))
	}

	if u.Message != nil {
		next.Message = *u.Message
	}

	next.UpdatedAt = l.now().UTC()
	*job = next

	return copySnapshot(job), nil
}

func (l *Ledger) Get(jobID string) (Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	return copySnapshot(job), nil
}

func (l *Ledger) List() []Snapshot {
	l.mu.RLock()
	snapshots := make([]Snapshot, 0, len(l.jobs))
	for _, job := range l.jobs {
		snapshots = append(snapshots, copySnapshot(job))
	}
	l.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].JobID < snapshots[j].JobID
		}
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})

	return snapshots
}

// Number of jobs currently in the training state
func (l *Ledger) CountActive() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, job := range l.jobs {
		if job.State == StateTraining {
			count++
		}
	}

	return count
}

func clamp(p float64) float64 {
	return min(max(p, MinProgress), MaxProgress)
}

func copySnapshot(job *Snapshot) Snapshot {
	s := *job
	if job.ModelID != nil {
		id := *job.ModelID
		s.ModelID = &id
	}
	return s
}
