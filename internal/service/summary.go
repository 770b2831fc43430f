package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/expiry"
	"github.com/and161185/emol/internal/repository"
)

// Period is a summary window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q (want day, week or month)", s)
}

// Days is the window length of p.
func (p Period) Days() int {
	switch p {
	case PeriodDay:
		return 1
	case PeriodWeek:
		return 7
	default:
		return 30
	}
}

// SummaryOptions selects the window and the level of detail.
type SummaryOptions struct {
	Period   Period
	Days     int // overrides the period length when positive
	Detailed bool
}

// CountByName is a labelled count.
type CountByName struct {
	Name  string
	Count int
}

// DateDetail lists what expires on one date.
type DateDetail struct {
	Date    time.Time
	Cards   []CountByName
	Waivers int
}

// ExpirySummary describes what expires in [From, To).
type ExpirySummary struct {
	From, To     time.Time
	Cards        []CountByName
	CardTotal    int
	Waivers      int
	ByDate       []DateDetail
	RemindersDue map[int]int // lead day -> reminders falling due in the window
}

// Summarizer reports upcoming expirations.
type Summarizer struct {
	store repository.Store
	clk   clock.Clock
}

// NewSummarizer constructs a Summarizer.
func NewSummarizer(store repository.Store, clk clock.Clock) *Summarizer {
	return &Summarizer{store: store, clk: clk}
}

// Summarize counts cards by discipline and waivers expiring inside the window starting today.
func (s *Summarizer) Summarize(ctx context.Context, opts SummaryOptions) (ExpirySummary, error) {
	n := opts.Days
	if n <= 0 {
		n = opts.Period.Days()
	}
	from := clock.Today(s.clk.Now())
	out := ExpirySummary{From: from, To: from.AddDate(0, 0, n), RemindersDue: map[int]int{}}
	inWindow := func(t time.Time) bool { return !t.Before(out.From) && t.Before(out.To) }

	r := s.store.Repos()
	cards, err := r.Cards.ListAll(ctx)
	if err != nil {
		return out, fmt.Errorf("list cards: %w", err)
	}
	waivers, err := r.Waivers.ListAll(ctx)
	if err != nil {
		return out, fmt.Errorf("list waivers: %w", err)
	}

	byDiscipline := map[string]int{}
	byDate := map[time.Time]*dateAcc{}
	acc := func(t time.Time) *dateAcc {
		a, ok := byDate[t]
		if !ok {
			a = &dateAcc{cards: map[string]int{}}
			byDate[t] = a
		}
		return a
	}
	for _, c := range cards {
		e := expiry.NewCard(c, nil).ExpirationDate()
		if !inWindow(e) {
			continue
		}
		byDiscipline[c.DisciplineName]++
		out.CardTotal++
		acc(e).cards[c.DisciplineName]++
	}
	for _, w := range waivers {
		e := expiry.NewWaiver(w, nil).ExpirationDate()
		if !inWindow(e) {
			continue
		}
		out.Waivers++
		acc(e).waivers++
	}
	out.Cards = sortedCounts(byDiscipline)

	if opts.Detailed {
		for d, a := range byDate {
			out.ByDate = append(out.ByDate, DateDetail{Date: d, Cards: sortedCounts(a.cards), Waivers: a.waivers})
		}
		sort.Slice(out.ByDate, func(i, j int) bool { return out.ByDate[i].Date.Before(out.ByDate[j].Date) })
	}

	due, err := r.Reminders.ListDue(ctx, out.To.AddDate(0, 0, -1))
	if err != nil {
		return out, fmt.Errorf("list reminders: %w", err)
	}
	for _, rem := range due {
		if inWindow(rem.DueDate) {
			out.RemindersDue[rem.DaysToExpiry]++
		}
	}
	return out, nil
}

type dateAcc struct {
	cards   map[string]int
	waivers int
}

func sortedCounts(m map[string]int) []CountByName {
	out := make([]CountByName, 0, len(m))
	for name, n := range m {
		out = append(out, CountByName{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
