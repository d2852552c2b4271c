package csvimport

import (
	"strings"

	"roadmap-api/domain"
)

// Column positions of the template. The parser is positional: it never matches
// on header names, so the header row order in template.go is the contract.
const (
	colMilestoneTitle = iota
	colMilestoneDescription
	colTaskTitle
	colTaskDescription
	colResources
	colDueDate
	columnCount
)

// Parse converts a full CSV document (header line plus data rows) into an
// ordered milestone tree. Rows sharing a milestone title collapse into one
// milestone, in first-seen order, accumulating tasks in row order; the first
// row's milestone description wins. Malformed rows (fewer than six fields, or
// an empty milestone or task title after trimming) are skipped silently.
func Parse(text string) []domain.Milestone {
	lines := strings.Split(text, "\n")
	milestones := []domain.Milestone{}
	if len(lines) < 2 {
		return milestones
	}

	index := make(map[string]int)
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := SplitLine(line)
		if len(fields) < columnCount {
			continue
		}

		milestoneTitle := strings.TrimSpace(fields[colMilestoneTitle])
		taskTitle := strings.TrimSpace(fields[colTaskTitle])
		if milestoneTitle == "" || taskTitle == "" {
			continue
		}

		mi, ok := index[milestoneTitle]
		if !ok {
			mi = len(milestones)
			index[milestoneTitle] = mi
			milestones = append(milestones, domain.Milestone{
				Title:       milestoneTitle,
				Description: strings.TrimSpace(fields[colMilestoneDescription]),
				Status:      domain.StatusNotStarted,
				Order:       mi,
				Tasks:       []domain.Task{},
			})
		}

		task := domain.Task{
			Title:       taskTitle,
			Description: strings.TrimSpace(fields[colTaskDescription]),
			Resources:   splitResources(fields[colResources]),
			DueDate:     dueDate(fields[colDueDate]),
			Status:      domain.StatusNotStarted,
			Order:       len(milestones[mi].Tasks),
		}
		milestones[mi].Tasks = append(milestones[mi].Tasks, task)
	}
	return milestones
}

// splitResources breaks the comma-joined resources cell apart, trimming each
// piece and stripping one layer of surrounding quotes. Empty entries are kept;
// they are filtered at submission time, not at parse time.
func splitResources(cell string) []string {
	cell = strings.TrimSpace(cell)
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, stripQuotes(strings.TrimSpace(p)))
	}
	return out
}

func stripQuotes(s string) string {
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if len(s) > 0 && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return s
}

func dueDate(cell string) *string {
	v := strings.TrimSpace(cell)
	if v == "" {
		return nil
	}
	return &v
}
