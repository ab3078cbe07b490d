package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

type IAlertService interface {
	SendDegradedAlert(toEmail, sessionId, reason string) error
}

type alertService struct {
	dialer      *gomail.Dialer
	senderEmail string
}

func NewAlertService(host string, port int, username, password, senderEmail string) IAlertService {
	d := gomail.NewDialer(host, port, username, password)
	return &alertService{
		dialer:      d,
		senderEmail: senderEmail,
	}
}

// SendDegradedAlert notifies the operators that a session fell back to a
// locally generated answer because the worker did not respond in time.
func (s *alertService) SendDegradedAlert(toEmail, sessionId, reason string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.senderEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("Relay session degraded: %s", sessionId))

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Session degraded</h2>
			<p>Session <code>%s</code> received a fallback answer.</p>
			<p>Reason: %s</p>
			<p>Check the worker machine and the messaging platform connectivity.</p>
		</div>
	`, sessionId, reason)

	m.SetBody("text/html", body)
	return s.dialer.DialAndSend(m)
}
