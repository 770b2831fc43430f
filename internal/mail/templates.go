// Package mail renders outbound notices and delivers them through a Sender.
package mail

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date format used in message bodies.
const DateLayout = "2006-01-02"

const signOff = "\nEaldormere eMoL\n"

const (
	waiverURL   = "http://www.ealdormere.ca/uploads/2/4/1/5/24151324/adult_waiver.pdf"
	contactsURL = "http://www.ealdormere.ca/earl-marshal-deputies.html"
)

// Message is a fully rendered plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
	Kind    string // template name, used for logs and metrics
}

// MigrationStage is a step of the PIN migration campaign.
type MigrationStage string

const (
	StageInitial  MigrationStage = "initial"
	StageReminder MigrationStage = "reminder"
	StageFinal    MigrationStage = "final"
)

// ParseStage validates a stage name.
func ParseStage(s string) (MigrationStage, error) {
	switch st := MigrationStage(strings.ToLower(strings.TrimSpace(s))); st {
	case StageInitial, StageReminder, StageFinal:
		return st, nil
	}
	return "", fmt.Errorf("unknown migration stage %q", s)
}

func body(lines ...string) string {
	return "Greetings!\n\n" + strings.Join(lines, "\n") + "\n" + signOff
}

// CardReminder warns that the authorizations for a discipline expire in days.
func CardReminder(to, discipline string, days int, expires time.Time) Message {
	return Message{
		To:      to,
		Subject: "Card expiry reminder",
		Kind:    "card_reminder",
		Body: body(
			fmt.Sprintf("Your Ealdormere authorizations for %s will expire in %d", discipline, days),
			fmt.Sprintf("days, on %s. To renew them, please see your local marshal to fill", expires.Format(DateLayout)),
			"out the paperwork, then send it to the Minister of the Lists.",
			"",
			"You can send it by postal mail, or scan and email it. Contact information",
			"for the Minister of the Lists can be found here:",
			contactsURL,
		),
	}
}

// CardExpiry announces that the authorizations for a discipline expired today.
func CardExpiry(to, discipline string) Message {
	return Message{
		To:      to,
		Subject: "Card expiry notice",
		Kind:    "card_expiry",
		Body: body(
			fmt.Sprintf("Your Ealdormere authorizations for %s have expired as of today.", discipline),
			"To renew them, please see your local marshal or contact the Minister of",
			"the Lists. Contact information for the Minister of the Lists can be found here:",
			contactsURL,
		),
	}
}

// WaiverReminder warns that the waiver on file expires in days.
func WaiverReminder(to string, days int, expires time.Time) Message {
	return Message{
		To:      to,
		Subject: "Waiver expiry reminder",
		Kind:    "waiver_reminder",
		Body: body(
			"The waiver you have on file with the Minister of the Lists will expire in",
			fmt.Sprintf("%d days, on %s. If your waiver expires, you will not", days, expires.Format(DateLayout)),
			"be able to participate in SCA combat activities until you file a new one.",
			"",
			"You can find the waiver here:",
			waiverURL,
			"",
			"Please print and fill one out, and then return it to the Minister of the Lists.",
			"",
			"You can send it by postal mail, or scan and email it. Contact information",
			"for the Minister of the Lists can be found here:",
			contactsURL,
		),
	}
}

// WaiverExpiry announces that the waiver on file has expired.
func WaiverExpiry(to string) Message {
	return Message{
		To:      to,
		Subject: "Waiver expiry notice",
		Kind:    "waiver_expiry",
		Body: body(
			"The waiver you have on file with the Minister of the Lists has expired.",
			"Until you file a new waiver with the Minister of the Lists, you will not",
			"be able to participate in SCA combat activities.",
			"",
			"You can find the waiver here:",
			waiverURL,
			"",
			"Please print and fill one out, and then return it to the Minister of the Lists.",
			"",
			"You can send it by postal mail, or scan and email it. Contact information",
			"for the Minister of the Lists can be found here:",
			contactsURL,
		),
	}
}

// CardURL tells a combatant where their card lives.
func CardURL(to, cardURL string) Message {
	return Message{
		To:      to,
		Subject: "Your authorization card",
		Kind:    "card_url",
		Body: body(
			"Here is where you can view your authorization card online:",
			cardURL,
			"",
			"This location does not change, so you can bookmark it.",
		),
	}
}

// InfoUpdate carries a self-serve information update link.
func InfoUpdate(to, updateURL string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Information update request",
		Kind:    "info_update",
		Body: body(
			"We have received a request to update your information.",
			"If you did not make the request, you can safely ignore this email.",
			"",
			"To update your information, use this link:",
			updateURL,
			"",
			fmt.Sprintf("This link will be usable for %s from the time it was requested,", humanTTL(ttl)),
			"after which it will expire and a new one must be requested.",
		),
	}
}

// PrivacyPolicy welcomes a new combatant and links the privacy policy.
func PrivacyPolicy(to, policyURL string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Welcome to Ealdormere eMoL!",
		Kind:    "privacy_policy",
		Body: body(
			"Congratulations on your authorization!",
			"",
			"Before we finalize you in the eMoL database you must be given the option",
			"to opt out, and the ability to view and accept our privacy policy before",
			"you make that decision.",
			"",
			"If you accept, you will be able to view your authorization card online,",
			"manage your information online, and receive email notification when your",
			"card or waiver is getting close to expiry.",
			"",
			"If you decline, we will delete all trace of you from the eMoL database and",
			"the Minister of the Lists will track your authorizations manually, offline.",
			"",
			"This link will take you to the privacy policy page:",
			policyURL,
			"",
			fmt.Sprintf("The link will be usable for %s from the date of this email, after which", humanTTL(ttl)),
			"it will expire and a new one must be requested.",
		),
	}
}

// PINSetup invites a combatant to choose a PIN.
func PINSetup(to, setupURL string) Message {
	return Message{
		To:      to,
		Subject: "Set up your eMoL PIN",
		Kind:    "pin_setup",
		Body: body(
			"Your authorization card is now protected by a PIN.",
			"",
			"To choose your PIN, use this link:",
			setupURL,
			"",
			"Your PIN is 4 to 6 digits. You will be asked for it when viewing your card.",
		),
	}
}

// PINReset carries a PIN reset link.
func PINReset(to, resetURL string) Message {
	return Message{
		To:      to,
		Subject: "Reset your eMoL PIN",
		Kind:    "pin_reset",
		Body: body(
			"Your eMoL PIN has been reset.",
			"",
			"To choose a new PIN, use this link:",
			resetURL,
			"",
			"If you did not ask for this, please contact the Minister of the Lists.",
		),
	}
}

// PINLockout tells a combatant that PIN entry is blocked.
func PINLockout(to string, lockout time.Duration) Message {
	return Message{
		To:      to,
		Subject: "eMoL PIN locked",
		Kind:    "pin_lockout",
		Body: body(
			"There have been too many incorrect attempts to enter your eMoL PIN.",
			fmt.Sprintf("PIN entry has been locked for %s.", humanTTL(lockout)),
			"",
			"If this was not you, please contact the Minister of the Lists.",
		),
	}
}

// PINMigration is one stage of the campaign asking existing combatants to set a PIN.
func PINMigration(to, setupURL string, stage MigrationStage) Message {
	m := Message{To: to, Kind: "pin_migration_" + string(stage)}
	var lead string
	switch stage {
	case StageReminder:
		m.Subject = "Reminder: set up your eMoL PIN"
		lead = "This is a reminder that your authorization card will soon require a PIN."
	case StageFinal:
		m.Subject = "Final notice: set up your eMoL PIN"
		lead = "This is the final notice: your authorization card will soon require a PIN."
	default:
		m.Subject = "eMoL is adding PIN protection"
		lead = "eMoL is adding PIN protection to authorization cards."
	}
	m.Body = body(
		lead,
		"",
		"To choose your PIN, use this link:",
		setupURL,
		"",
		"Your PIN is 4 to 6 digits.",
	)
	return m
}

func humanTTL(d time.Duration) string {
	switch {
	case d >= 7*24*time.Hour && d%(7*24*time.Hour) == 0:
		return plural(int(d/(7*24*time.Hour)), "week")
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/time.Minute), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "one " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
