package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/sfoufcat/slimcircle/internal/models"
	"github.com/sfoufcat/slimcircle/internal/types"
)

// ChatMessage is the payload posted to a squad's chat ingestion webhook.
type ChatMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	SquadID uint   `json:"squad_id"`
	CallID  uint   `json:"call_id,omitempty"`
}

// Notifier fans scheduler output out to the squad chat webhook and, when
// enabled, reminder emails. All dispatch is best-effort: failures are
// logged and never surfaced to the state machine.
type Notifier struct {
	db   *gorm.DB
	mail *MailService
}

func NewNotifier(database *gorm.DB, mail *MailService) *Notifier {
	return &Notifier{db: database, mail: mail}
}

func (n *Notifier) CallScheduled(squad models.Squad, call models.CallProposal) {
	text := fmt.Sprintf("📞 Your squad call is confirmed: %s", callSummary(call))

	n.postChatMessage(squad, ChatMessage{
		Type:    "call_scheduled",
		Text:    text,
		SquadID: squad.ID,
		CallID:  call.ID,
	})
}

func (n *Notifier) CallDeleted(squad models.Squad) {
	n.postChatMessage(squad, ChatMessage{
		Type:    "call_deleted",
		Text:    "❌ The squad call has been canceled by group vote.",
		SquadID: squad.ID,
	})
}

func (n *Notifier) CallReminder(squad models.Squad, call models.CallProposal, stage string) {
	stageText := stageText(stage)
	summary := callSummary(call)

	n.postChatMessage(squad, ChatMessage{
		Type:    "call_reminder",
		Text:    fmt.Sprintf("⏰ Squad call %s: %s", stageText, summary),
		SquadID: squad.ID,
		CallID:  call.ID,
	})

	config := notifyConfig(squad)

	if !config.EmailReminders {
		return
	}

	emails, err := n.memberEmails(squad.ID)

	if err != nil {
		log.Printf("Failed to load member emails for squad %d: %v", squad.ID, err)
		return
	}

	for _, email := range emails {
		if err := n.mail.SendCallReminderMail(email, squad.Name, summary, stageText); err != nil {
			log.Printf("Failed to send reminder mail to %s: %v", email, err)
		}
	}
}

func (n *Notifier) postChatMessage(squad models.Squad, message ChatMessage) {
	config := notifyConfig(squad)

	if config.ChatWebhookURL == "" {
		return
	}

	if err := sendChatWebhook(config.ChatWebhookURL, message); err != nil {
		log.Printf("Failed to notify squad %d chat: %v", squad.ID, err)
	}
}

func (n *Notifier) memberEmails(squadID uint) ([]string, error) {
	var memberships []models.SquadMembership

	err := n.db.Preload("User").Where("squad_id = ?", squadID).Find(&memberships).Error

	if err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(memberships))

	for _, membership := range memberships {
		emails = append(emails, membership.User.Email)
	}

	return emails, nil
}

func notifyConfig(squad models.Squad) types.NotifyConfig {
	var config types.NotifyConfig

	if len(squad.NotifyConfig) == 0 {
		return config
	}

	if err := json.Unmarshal(squad.NotifyConfig, &config); err != nil {
		log.Printf("Invalid notify config for squad %d: %v", squad.ID, err)
	}

	return config
}

func stageText(stage string) string {
	switch stage {
	case types.StageDayBefore:
		return "in 24 hours"
	case types.StageHourBefore:
		return "in 1 hour"
	case types.StageStart:
		return "starting now"
	default:
		return stage
	}
}

func callSummary(call models.CallProposal) string {
	if call.StartAt == nil {
		return call.Location
	}

	startAt := *call.StartAt

	if loc, err := time.LoadLocation(call.Timezone); err == nil {
		startAt = startAt.In(loc)
	}

	summary := fmt.Sprintf("%s at %s", startAt.Format("Mon, 02 Jan 2006 15:04 MST"), call.Location)

	if call.Title != "" {
		summary = call.Title + ": " + summary
	}

	return summary
}

func sendChatWebhook(webhookURL string, payload ChatMessage) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	resp, err := http.Post(webhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}

	return nil
}
