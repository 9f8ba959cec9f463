package recommend

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are the planning assistant for a personal productivity dashboard.
Given a summary of the user's goals, tasks, habits and current priorities,
propose between 3 and 5 priorities for today. Respond with a JSON array only,
no prose. Each element must have the fields: "title" (string), "description"
(string), "priority_score" (number between 0 and 100), "source_type" (one of
"manual", "project", "task"), and optionally "source_id" and "goal_id".`

// GoalSummary describes one active goal offered to the completion service.
type GoalSummary struct {
	ID       string
	Title    string
	Category string
	Progress int
}

// TaskSummary describes one open task offered to the completion service.
type TaskSummary struct {
	ID      string
	Title   string
	GoalID  string
	DueDays int
}

// HabitSummary describes one tracked habit offered to the completion service.
type HabitSummary struct {
	ID         string
	Title      string
	StreakDays int
}

// PrioritySummary describes one current priority for regeneration context.
type PrioritySummary struct {
	Title  string
	Source string
	Score  int
}

// Summary is the structured snapshot sent to the completion service.
type Summary struct {
	Goals      []GoalSummary
	Tasks      []TaskSummary
	Habits     []HabitSummary
	Priorities []PrioritySummary
}

func buildUserPrompt(summary Summary) string {
	var builder strings.Builder

	builder.WriteString("Active goals:\n")
	if len(summary.Goals) == 0 {
		builder.WriteString("  (none)\n")
	}
	for _, goal := range summary.Goals {
		fmt.Fprintf(&builder, "  - id=%s title=%q category=%s progress=%d%%\n",
			goal.ID, goal.Title, goal.Category, goal.Progress)
	}

	builder.WriteString("Open tasks:\n")
	if len(summary.Tasks) == 0 {
		builder.WriteString("  (none)\n")
	}
	for _, task := range summary.Tasks {
		fmt.Fprintf(&builder, "  - id=%s title=%q goal=%s due_in_days=%d\n",
			task.ID, task.Title, task.GoalID, task.DueDays)
	}

	builder.WriteString("Habits:\n")
	if len(summary.Habits) == 0 {
		builder.WriteString("  (none)\n")
	}
	for _, habit := range summary.Habits {
		fmt.Fprintf(&builder, "  - id=%s title=%q streak_days=%d\n",
			habit.ID, habit.Title, habit.StreakDays)
	}

	builder.WriteString("Current priorities:\n")
	if len(summary.Priorities) == 0 {
		builder.WriteString("  (none)\n")
	}
	for _, priority := range summary.Priorities {
		fmt.Fprintf(&builder, "  - title=%q source=%s score=%d\n",
			priority.Title, priority.Source, priority.Score)
	}

	return builder.String()
}
