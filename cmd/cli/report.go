package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/and161185/emol/internal/logger"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/service"
)

const dateLayout = "2006-01-02"

// printReport renders a command result for a terminal.
func printReport(w io.Writer, rep any) {
	switch r := rep.(type) {
	case service.DispatchReport:
		printDispatch(w, r)
	case PurgeReport:
		fmt.Fprintf(w, "purged %d one-time codes\n", r.Purged)
	case service.HygieneReport:
		printHygiene(w, r)
	case service.ExpirySummary:
		printSummary(w, r)
	case service.MigrationReport:
		printMigration(w, r)
	default:
		fmt.Fprintf(w, "%+v\n", r)
	}
}

func owner(ref model.OwnerRef) string {
	return fmt.Sprintf("%s #%d", ref.Kind, ref.ID)
}

func printDispatch(w io.Writer, r service.DispatchReport) {
	if r.DryRun {
		fmt.Fprintf(w, "dry run %s\n", r.RunID)
		for _, d := range r.Decisions {
			line := fmt.Sprintf("  %-17s %s d=%d due %s", d.Action, owner(d.Reminder.Owner), d.Reminder.DaysToExpiry, d.Reminder.DueDate.Format(dateLayout))
			if d.To != "" {
				line += " to " + logger.MaskEmail(d.To)
			}
			fmt.Fprintln(w, line)
		}
	} else {
		fmt.Fprintf(w, "run %s\n", r.RunID)
	}
	fmt.Fprintf(w, "sent %d, failed %d, skipped (privacy) %d, superseded %d, orphans %d\n",
		r.Sent, r.Failed, r.Skipped, r.Superseded, r.Orphans)
}

func printHygiene(w io.Writer, r service.HygieneReport) {
	fmt.Fprintf(w, "run %s: checked %d owners, %d reminders missing\n", r.RunID, r.Checked, r.MissingCount())
	for _, m := range r.Missing {
		days := make([]string, 0, len(m.Days))
		for _, d := range m.Days {
			days = append(days, fmt.Sprint(d))
		}
		fmt.Fprintf(w, "  %s missing %s\n", owner(m.Owner), strings.Join(days, ","))
	}
	if r.Created > 0 {
		fmt.Fprintf(w, "created %d reminders\n", r.Created)
	}
	if r.OrphanCount > 0 {
		fmt.Fprintf(w, "%d orphaned reminders\n", r.OrphanCount)
		for _, o := range r.Orphans {
			fmt.Fprintf(w, "  %s d=%d\n", owner(o.Owner), o.DaysToExpiry)
		}
		if rest := r.OrphanCount - len(r.Orphans); rest > 0 {
			fmt.Fprintf(w, "  ... and %d more\n", rest)
		}
	}
}

func printSummary(w io.Writer, s service.ExpirySummary) {
	fmt.Fprintf(w, "expiring from %s to %s\n", s.From.Format(dateLayout), s.To.AddDate(0, 0, -1).Format(dateLayout))
	fmt.Fprintf(w, "cards: %d\n", s.CardTotal)
	for _, c := range s.Cards {
		fmt.Fprintf(w, "  %-24s %d\n", c.Name, c.Count)
	}
	fmt.Fprintf(w, "waivers: %d\n", s.Waivers)

	for _, d := range s.ByDate {
		fmt.Fprintf(w, "%s\n", d.Date.Format(dateLayout))
		for _, c := range d.Cards {
			fmt.Fprintf(w, "  %-24s %d\n", c.Name, c.Count)
		}
		if d.Waivers > 0 {
			fmt.Fprintf(w, "  %-24s %d\n", "waivers", d.Waivers)
		}
	}

	if len(s.RemindersDue) == 0 {
		return
	}
	days := make([]int, 0, len(s.RemindersDue))
	for d := range s.RemindersDue {
		days = append(days, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(days)))
	fmt.Fprintln(w, "reminders due:")
	for _, d := range days {
		fmt.Fprintf(w, "  d=%-3d %d\n", d, s.RemindersDue[d])
	}
}

func printMigration(w io.Writer, r service.MigrationReport) {
	mode := "run"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "%s %s stage %s: targeted %d, sent %d, failed %d\n",
		mode, r.RunID, r.Stage, r.Targeted, r.Sent, r.Failed)
}
