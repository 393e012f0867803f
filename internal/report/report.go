// Package report renders the per-run audit snapshot and activity feed.
// Reports are read-only outputs: planning never consumes them.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/repbot/internal/models"
	"github.com/joescharf/repbot/internal/modes"
)

const (
	auditJSONFile = "audit.json"
	auditMDFile   = "audit.md"
	activityFile  = "activity.md"
)

// RunReport is the full audit snapshot of one orchestrator run.
type RunReport struct {
	GeneratedAt     time.Time               `json:"generated_at"`
	Mode            modes.RunMode           `json:"mode"`
	IdentitySource  string                  `json:"identity_source"`
	PeriodStart     time.Time               `json:"period_start"`
	PeriodEnd       time.Time               `json:"period_end"`
	EventsIngested  int                     `json:"events_ingested"`
	Scores          []models.Score          `json:"scores"`
	RolePlans       []models.RolePlan       `json:"role_plans"`
	AssignmentPlans []models.AssignmentPlan `json:"assignment_plans"`
	Applied         bool                    `json:"applied"`
}

// Write renders audit.json and audit.md under dir, creating it if needed.
func Write(dir string, r RunReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, auditJSONFile), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, auditMDFile), []byte(renderMarkdown(r)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func renderMarkdown(r RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run report %s\n\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Mode: %s\n", r.Mode)
	fmt.Fprintf(&b, "- Identity source: %s\n", r.IdentitySource)
	fmt.Fprintf(&b, "- Window: %s .. %s\n", r.PeriodStart.UTC().Format("2006-01-02"), r.PeriodEnd.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "- Events ingested: %d\n", r.EventsIngested)
	fmt.Fprintf(&b, "- Actions applied: %t\n\n", r.Applied)

	b.WriteString("## Scores\n\n")
	if len(r.Scores) == 0 {
		b.WriteString("No scored contributors in this window.\n\n")
	} else {
		b.WriteString("| GitHub user | Points |\n|---|---|\n")
		for _, s := range r.Scores {
			fmt.Fprintf(&b, "| %s | %d |\n", s.GitHubUser, s.Points)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Role changes\n\n")
	if len(r.RolePlans) == 0 {
		b.WriteString("No role changes planned.\n\n")
	} else {
		b.WriteString("| Discord user | Role | Op | Reason |\n|---|---|---|---|\n")
		for _, p := range r.RolePlans {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", p.DiscordUserID, p.Role, p.Op, p.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Assignments\n\n")
	if len(r.AssignmentPlans) == 0 {
		b.WriteString("No assignments planned.\n")
	} else {
		b.WriteString("| Repo | Target | Assignee | Op |\n|---|---|---|---|\n")
		for _, p := range r.AssignmentPlans {
			fmt.Fprintf(&b, "| %s | %s #%d | %s | %s |\n", p.Repo, p.TargetKind, p.TargetNumber, p.Assignee, p.Op)
		}
	}
	return b.String()
}

// WriteActivity renders the read-only activity feed, grouped by repository
// with events in chronological order.
func WriteActivity(dir string, events []models.ContributionEvent) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write activity: %w", err)
	}

	byRepo := make(map[string][]models.ContributionEvent)
	for _, ev := range events {
		byRepo[ev.Repo] = append(byRepo[ev.Repo], ev)
	}
	repos := make([]string, 0, len(byRepo))
	for repo := range byRepo {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	var b strings.Builder
	b.WriteString("# Activity\n")
	for _, repo := range repos {
		fmt.Fprintf(&b, "\n## %s\n\n", repo)
		list := byRepo[repo]
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
		for _, ev := range list {
			line := fmt.Sprintf("- %s %s by %s", ev.CreatedAt.UTC().Format("2006-01-02"), ev.Kind, ev.GitHubUser)
			if n := ev.TargetNumber(); n != 0 {
				line += fmt.Sprintf(" (#%d)", n)
			}
			if title := ev.PayloadString(models.PayloadTitle); title != "" {
				line += " " + title
			}
			b.WriteString(line + "\n")
		}
	}

	if err := os.WriteFile(filepath.Join(dir, activityFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write activity: %w", err)
	}
	return nil
}
