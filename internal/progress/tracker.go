// Package progress tracks ingestion tasks through a fixed list of stages.
package progress

import (
	"fmt"
	"sync"
	"time"

	"studybuddy/internal/domain"
)

// Stages in the order an ingestion passes through them.
var Stages = []string{
	"Uploading file",
	"Extracting text",
	"Chunking text",
	"Generating embeddings",
	"Storing in database",
	"Complete",
}

type State string

const (
	StateStarted    State = "started"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Status is a snapshot of one task.
type Status struct {
	State     State                    `json:"status"`
	Message   string                   `json:"message"`
	Progress  int                      `json:"progress"`
	Stage     string                   `json:"current_stage"`
	Result    *domain.ProcessingResult `json:"result,omitempty"`
	UpdatedAt time.Time                `json:"timestamp"`
}

// Tracker is a concurrency-safe store of task statuses. Tasks live until Forget.
type Tracker struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	onUpdate func(taskID string, s Status)
	now      func() time.Time
}

type task struct {
	stage  int
	status Status
}

type Option func(*Tracker)

// WithListener registers fn to be called after every status change.
// fn runs while the tracker lock is held and must not call back into it.
func WithListener(fn func(taskID string, s Status)) Option {
	return func(t *Tracker) { t.onUpdate = fn }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{tasks: make(map[string]*task), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start registers taskID, replacing any previous status under that id.
func (t *Tracker) Start(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk := &task{}
	t.tasks[taskID] = tk
	t.set(taskID, tk, StateStarted, "Initializing...", 0, nil)
}

// Handle returns the reporter an ingestion uses to advance taskID.
func (t *Tracker) Handle(taskID string) *Reporter {
	return &Reporter{tracker: t, taskID: taskID}
}

// Advance moves taskID to its next stage. Unknown tasks are ignored.
func (t *Tracker) Advance(taskID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[taskID]
	if !ok {
		return
	}
	if tk.stage < len(Stages)-1 {
		tk.stage++
	}
	if message == "" {
		message = Stages[tk.stage]
	}
	t.set(taskID, tk, StateProcessing, message, percent(tk.stage), nil)
}

func (t *Tracker) Complete(taskID string, result domain.ProcessingResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[taskID]
	if !ok {
		return
	}
	tk.stage = len(Stages) - 1
	t.set(taskID, tk, StateCompleted, "Processing complete", 100, &result)
}

// Fail records err at the stage the task had reached.
func (t *Tracker) Fail(taskID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[taskID]
	if !ok {
		return
	}
	t.set(taskID, tk, StateFailed, fmt.Sprintf("Error processing PDF: %v", err), percent(tk.stage), nil)
}

func (t *Tracker) Get(taskID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tk, ok := t.tasks[taskID]
	if !ok {
		return Status{}, false
	}
	return tk.status, true
}

func (t *Tracker) Forget(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}

func (t *Tracker) set(taskID string, tk *task, state State, message string, pct int, result *domain.ProcessingResult) {
	tk.status = Status{
		State:     state,
		Message:   message,
		Progress:  pct,
		Stage:     Stages[tk.stage],
		Result:    result,
		UpdatedAt: t.now(),
	}
	if t.onUpdate != nil {
		t.onUpdate(taskID, tk.status)
	}
}

func percent(stage int) int {
	return stage * 100 / len(Stages)
}

// Reporter advances a single task.
type Reporter struct {
	tracker *Tracker
	taskID  string
}

func (r *Reporter) Advance(message string) {
	r.tracker.Advance(r.taskID, message)
}
