package services

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/gomail.v2"
)

type MailService struct {
	dialer *gomail.Dialer
	from   string
}

func NewMailService() *MailService {
	host := os.Getenv("SMTP_HOST")
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASSWORD")
	return &MailService{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   user,
	}
}

func (m *MailService) SendCallReminderMail(to, squadName, callSummary, stageText string) error {
	message := gomail.NewMessage()
	message.SetHeader("From", m.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", fmt.Sprintf("%s: squad call %s", squadName, stageText))
	message.SetBody("text/html", `
		<div style="font-family: Arial, sans-serif; max-width: 600px; margin: auto; padding: 20px; border: 1px solid #ddd; border-radius: 8px; background-color: #f5f5f5;">
			<h2 style="color: #333; text-align: center;">Squad call reminder</h2>
			<p>Hi,</p>
			<p>Your squad <strong>`+squadName+`</strong> has its group call `+stageText+`:</p>
			<p style="text-align: center; font-size: 16px;"><strong>`+callSummary+`</strong></p>
			<p>See you there!</p>
		</div>
	`)
	return m.dialer.DialAndSend(message)
}
