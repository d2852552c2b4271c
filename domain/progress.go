package domain

import (
	"math"
	"time"
)

// Summary holds progress metrics derived from a roadmap snapshot.
type Summary struct {
	OverallProgress int `json:"overallProgress"`
	TotalTasks      int `json:"totalTasks"`
	Completed       int `json:"completedTasks"`
	InProgress      int `json:"inProgressTasks"`
	NotStarted      int `json:"notStartedTasks"`
	Overdue         int `json:"overdueTasks"`
}

// Summarize computes progress metrics over all tasks of a roadmap. Overall
// progress is 0 when the roadmap has no tasks.
func Summarize(r Roadmap, now time.Time) Summary {
	var s Summary
	for _, m := range r.Milestones {
		s = s.add(SummarizeTasks(m.Tasks, now))
	}
	s.OverallProgress = percentage(s.Completed, s.TotalTasks)
	return s
}

// SummarizeTasks computes progress metrics for a single task list.
func SummarizeTasks(tasks []Task, now time.Time) Summary {
	var s Summary
	s.TotalTasks = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case StatusCompleted:
			s.Completed++
		case StatusInProgress:
			s.InProgress++
		default:
			s.NotStarted++
		}
		if t.Overdue(now) {
			s.Overdue++
		}
	}
	s.OverallProgress = percentage(s.Completed, s.TotalTasks)
	return s
}

func (s Summary) add(o Summary) Summary {
	s.TotalTasks += o.TotalTasks
	s.Completed += o.Completed
	s.InProgress += o.InProgress
	s.NotStarted += o.NotStarted
	s.Overdue += o.Overdue
	return s
}

func percentage(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}
