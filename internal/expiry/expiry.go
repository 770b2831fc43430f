// Package expiry models cards and waivers as entities that expire and can be reminded about.
package expiry

import (
	"time"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/model"
)

// Validity periods in calendar years.
const (
	CardYears   = 2
	WaiverYears = 7
)

// Owner is an expiring entity a reminder can point at.
type Owner interface {
	Ref() model.OwnerRef
	ExpirationDate() time.Time
	// Subject is the combatant who receives the notice.
	Subject() *model.Combatant
	RenderReminder(days int) mail.Message
	RenderExpiry() mail.Message
}

// Render returns the expiry notice for days == 0, a reminder otherwise.
func Render(o Owner, days int) mail.Message {
	if days == 0 {
		return o.RenderExpiry()
	}
	return o.RenderReminder(days)
}

// AddYears adds calendar years to a date. Feb 29 clamps to Feb 28 in non-leap target years.
func AddYears(t time.Time, years int) time.Time {
	t = clock.Today(t)
	y := t.Year() + years
	d := t.Day()
	if t.Month() == time.February && d == 29 && !isLeap(y) {
		d = 28
	}
	return time.Date(y, t.Month(), d, 0, 0, 0, 0, time.UTC)
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// DaysUntil returns whole days from today to the owner's expiration; negative once expired.
func DaysUntil(o Owner, today time.Time) int {
	return clock.DaysBetween(today, o.ExpirationDate())
}

// Card adapts a card and its holder.
type Card struct {
	Card   *model.Card
	Holder *model.Combatant
}

// NewCard wraps c; holder is the combatant the card belongs to.
func NewCard(c *model.Card, holder *model.Combatant) *Card {
	return &Card{Card: c, Holder: holder}
}

func (c *Card) Ref() model.OwnerRef {
	return model.OwnerRef{Kind: model.OwnerCard, ID: c.Card.ID}
}

func (c *Card) ExpirationDate() time.Time { return AddYears(c.Card.DateIssued, CardYears) }

func (c *Card) Subject() *model.Combatant { return c.Holder }

func (c *Card) RenderReminder(days int) mail.Message {
	return mail.CardReminder(c.Holder.Email, c.Card.DisciplineName, days, c.ExpirationDate())
}

func (c *Card) RenderExpiry() mail.Message {
	return mail.CardExpiry(c.Holder.Email, c.Card.DisciplineName)
}

// Waiver adapts a waiver and its signer.
type Waiver struct {
	Waiver *model.Waiver
	Holder *model.Combatant
}

// NewWaiver wraps w; holder is the combatant who signed it.
func NewWaiver(w *model.Waiver, holder *model.Combatant) *Waiver {
	return &Waiver{Waiver: w, Holder: holder}
}

func (w *Waiver) Ref() model.OwnerRef {
	return model.OwnerRef{Kind: model.OwnerWaiver, ID: w.Waiver.ID}
}

func (w *Waiver) ExpirationDate() time.Time { return AddYears(w.Waiver.DateSigned, WaiverYears) }

func (w *Waiver) Subject() *model.Combatant { return w.Holder }

func (w *Waiver) RenderReminder(days int) mail.Message {
	return mail.WaiverReminder(w.Holder.Email, days, w.ExpirationDate())
}

func (w *Waiver) RenderExpiry() mail.Message {
	return mail.WaiverExpiry(w.Holder.Email)
}

// Plan computes the full reminder set for an owner: one per lead day, due that many days before expiry.
// Past due dates are kept; the dispatcher decides what to send.
func Plan(o Owner, days []int) []model.Reminder {
	e := o.ExpirationDate()
	out := make([]model.Reminder, 0, len(days))
	for _, d := range days {
		out = append(out, model.Reminder{
			Owner:        o.Ref(),
			DaysToExpiry: d,
			DueDate:      e.AddDate(0, 0, -d),
		})
	}
	return out
}

// Expected returns the lead days a non-expired owner should still have reminders for at today.
func Expected(o Owner, today time.Time, days []int) []int {
	left := DaysUntil(o, today)
	var out []int
	for _, d := range days {
		if left > d {
			out = append(out, d)
		}
	}
	return out
}
