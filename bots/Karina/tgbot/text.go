package tgbot

const (
	txtWelcomeMessage = "Hi, I'm Karina 👋 I'll remind you about pills, breaks, lunch and meetings, and I won't let you forget until you tell me it's done."
	txtHelpMessage    = `Here's what I understand:
/list - to see what's planned
/remind HH:MM text - to remind you at the given time
/in N text - to remind you in N minutes
/done - to confirm the reminders I keep nagging about
/snooze [N] - to postpone them for N minutes
/settings - to list settings
/set name value - to change a setting
/sync - to re-read today's calendar
You can also just answer "done" or "ok" when I remind you.`
	txtNotOwner            = "Sorry, I only work for my owner."
	txtUnknownCommand      = "I don't known this command. Use /help to list commands I know"
	txtDoNotUnderstand     = "E-mm, I'm not sure what you mean. Use /help to see what I can do"
	txtNothingPlanned      = "Nothing is planned, enjoy!"
	txtPlanned             = "Planned:\n"
	txtNothingPending      = "There's nothing to confirm right now"
	txtNothingToSnooze     = "There's nothing to snooze right now"
	txtExpectedRemindArgs  = "I expect the time and the text, like /remind 18:30 call mom"
	txtExpectedInArgs      = "I expect minutes and the text, like /in 20 check the oven"
	txtExpectedSetArgs     = "I expect a setting name and a value, like /set health_time 21:30"
	txtExpectedMinutes     = "I expect a positive number of minutes"
	txtFailedSetReminder   = "Hm. I couldn't set a reminder"
	txtFailedSync          = "I couldn't reach the calendar. Try again later"
	txtStaleButton         = "This button doesn't work anymore"
	txtAlreadyHandled      = "Already handled"
	txtConfirmedToast      = "Done ✅"
	txtSkippedToast        = "Skipped"
	txtYourSettings        = "Your settings:\n"
	txtReminderInThePast   = "That time has already passed"
	txtReminderTextMissing = "What should I remind you about?"

	fmtReminderSet    = "Gotcha, I'll remind you at %s"
	fmtConfirmed      = "Great, marked %d reminder(s) as done"
	fmtSnoozed        = "Okay, I'll come back in %d min"
	fmtSnoozedToast   = "Snoozed for %d min"
	fmtPlannedItem    = "%s %s: %s%s\n"
	fmtSettingItem    = "%s = %s\n"
	fmtSettingChanged = "%s is now %s"
	fmtUnknownSetting = "I don't know the setting %q. Use /settings to list them"
	fmtBadSetting     = "I couldn't change %s: %v"
	fmtSynced         = "Calendar synced, %d new meeting reminder(s)"

	txtEscalating = " (waiting for you)"
)

// confirmWords are the replies that confirm pending reminders.
var confirmWords = map[string]bool{
	"done":    true,
	"ok":      true,
	"okay":    true,
	"yes":     true,
	"did it":  true,
	"готово":  true,
	"сделала": true,
	"сделал":  true,
	"да":      true,
	"ок":      true,
	"выпила":  true,
	"выпил":   true,
	"👍":       true,
	"✅":       true,
}
