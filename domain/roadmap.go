package domain

import (
	"strings"
	"time"
)

// Status is the three-state completion lifecycle shared by milestones and tasks.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task is a single actionable item inside a milestone.
type Task struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Resources   []string `json:"resources"`
	DueDate     *string  `json:"dueDate"`
	Status      Status   `json:"status"`
	Order       int      `json:"order"`
}

// Milestone is a named phase of a roadmap holding an ordered task list.
// Its title is the grouping key during CSV import.
type Milestone struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Order       int    `json:"order"`
	Tasks       []Task `json:"tasks"`
}

// Roadmap is a titled milestone tree belonging to exactly one enrollment.
// Progress is never stored on it; it is recomputed from the tasks on read.
type Roadmap struct {
	ID           string      `json:"id"`
	EnrollmentID string      `json:"enrollmentId"`
	Title        string      `json:"title"`
	Description  *string     `json:"description"`
	Milestones   []Milestone `json:"milestones"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Enrollment links a user to a purchased service. It is owned by an external
// system; only the fields the roadmap API reads are modeled here.
type Enrollment struct {
	ID          string `json:"id"`
	ServiceName string `json:"serviceName"`
	Plan        string `json:"plan,omitempty"`
	Status      string `json:"status"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

// NormalizeOrders rewrites milestone and task order fields to contiguous
// zero-based indices matching list position.
func (r *Roadmap) NormalizeOrders() {
	for i := range r.Milestones {
		r.Milestones[i].Order = i
		for j := range r.Milestones[i].Tasks {
			r.Milestones[i].Tasks[j].Order = j
		}
	}
}

// Normalize prepares a roadmap for submission: orders are recomputed, blank
// resource entries are dropped, statuses default to NOT_STARTED and due dates
// are rewritten as full RFC3339 datetimes (or cleared when unparseable).
func (r *Roadmap) Normalize() {
	r.NormalizeOrders()
	for i := range r.Milestones {
		m := &r.Milestones[i]
		if !ValidStatus(m.Status) {
			m.Status = StatusNotStarted
		}
		for j := range m.Tasks {
			t := &m.Tasks[j]
			if !ValidStatus(t.Status) {
				t.Status = StatusNotStarted
			}
			t.Resources = filterBlank(t.Resources)
			t.DueDate = normalizeDueDate(t.DueDate)
		}
	}
}

func filterBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func normalizeDueDate(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return nil
	}
	if d, err := time.Parse("2006-01-02", v); err == nil {
		s := d.UTC().Format(time.RFC3339)
		return &s
	}
	if d, err := time.Parse(time.RFC3339, v); err == nil {
		s := d.UTC().Format(time.RFC3339)
		return &s
	}
	return nil
}

// DeriveMilestoneStatus computes a milestone's status from its tasks: all
// tasks completed means COMPLETED, any progress at all means IN_PROGRESS,
// otherwise NOT_STARTED. A milestone without tasks keeps NOT_STARTED.
func DeriveMilestoneStatus(tasks []Task) Status {
	if len(tasks) == 0 {
		return StatusNotStarted
	}
	completed := 0
	started := false
	for _, t := range tasks {
		switch t.Status {
		case StatusCompleted:
			completed++
			started = true
		case StatusInProgress:
			started = true
		}
	}
	if completed == len(tasks) {
		return StatusCompleted
	}
	if started {
		return StatusInProgress
	}
	return StatusNotStarted
}

// DueTime parses the task's due date. The second return value is false when
// no due date is set or it cannot be parsed.
func (t Task) DueTime() (time.Time, bool) {
	if t.DueDate == nil {
		return time.Time{}, false
	}
	v := strings.TrimSpace(*t.DueDate)
	if v == "" {
		return time.Time{}, false
	}
	if d, err := time.Parse(time.RFC3339, v); err == nil {
		return d, true
	}
	if d, err := time.Parse("2006-01-02", v); err == nil {
		return d, true
	}
	return time.Time{}, false
}

// Overdue reports whether the task has a due date strictly before now and is
// not yet completed. Evaluated per read; never cached.
func (t Task) Overdue(now time.Time) bool {
	if t.Status == StatusCompleted {
		return false
	}
	due, ok := t.DueTime()
	if !ok {
		return false
	}
	return due.Before(now)
}
