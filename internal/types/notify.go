package types

// Reminder stages fired for a confirmed call.
const (
	StageDayBefore  = "24h_before"
	StageHourBefore = "1h_before"
	StageStart      = "at_start"
)

// NotifyConfig is the per-squad notification configuration stored as JSON
// on the squad record.
type NotifyConfig struct {
	ChatWebhookURL string `json:"chat_webhook_url"` // squad chat ingestion endpoint
	EmailReminders bool   `json:"email_reminders"`  // send reminder emails to members
}
