package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"

	"roomno4/internal/config"
	"roomno4/internal/logger"
	"roomno4/internal/models"
	"roomno4/internal/monitoring"
	"roomno4/internal/tickets/qr"
)

// Dispatcher sends ticket emails to buyers and summaries to the operator
// Telegram channel. Every send is best-effort: failures are logged and
// counted, never returned, so a dead relay can not undo an issued ticket.
type Dispatcher struct {
	email    config.EmailConfig
	telegram config.TelegramConfig
	client   *http.Client
	log      *logger.Logger

	// overridable in tests
	telegramBaseURL string
	sendMail        func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewDispatcher(emailCfg config.EmailConfig, telegramCfg config.TelegramConfig, client *http.Client, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		email:           emailCfg,
		telegram:        telegramCfg,
		client:          client,
		log:             log,
		telegramBaseURL: "https://api.telegram.org",
		sendMail:        smtp.SendMail,
	}
}

// NotifyBuyer emails the issued ticket, with the QR code embedded inline.
func (d *Dispatcher) NotifyBuyer(ticket *models.Ticket) {
	if d.email.SMTPHost == "" || d.email.From == "" {
		d.log.Warn("NOTIFY", "SMTP not configured, skipping buyer email")
		monitoring.NotificationsTotal.WithLabelValues("email", "skipped").Inc()
		return
	}

	message := []byte(fmt.Sprintf(
		"Subject: Your Room No 4 Ticket\r\n"+
			"MIME-version: 1.0;\r\n"+
			"Content-Type: text/html; charset=\"UTF-8\";\r\n\r\n"+
			`<div style="font-family: Arial, sans-serif; max-width: 500px; margin: auto;">
				<h2>Your ticket is confirmed</h2>
				<p>Show this QR code at the entrance.</p>
				<img src="%s" alt="ticket QR" width="256" height="256">
				<p>Ticket code: <b>%s</b></p>
			</div>`,
		qr.DataURL(ticket.QRCode), ticket.TicketCode))

	auth := smtp.PlainAuth("", d.email.SMTPUsername, d.email.SMTPPassword, d.email.SMTPHost)
	addr := d.email.SMTPHost + ":" + d.email.SMTPPort

	if err := d.sendMail(addr, auth, d.email.From, []string{ticket.BuyerEmail}, message); err != nil {
		d.log.Error("NOTIFY", fmt.Sprintf("Failed to email ticket %s to %s: %v", ticket.ID, ticket.BuyerEmail, err))
		monitoring.NotificationsTotal.WithLabelValues("email", "error").Inc()
		return
	}

	d.log.Info("NOTIFY", fmt.Sprintf("Emailed ticket %s to %s", ticket.ID, ticket.BuyerEmail))
	monitoring.NotificationsTotal.WithLabelValues("email", "ok").Inc()
}

// NotifyOperator posts a plain-text summary to the operator Telegram chat.
func (d *Dispatcher) NotifyOperator(summary string) {
	if d.telegram.BotToken == "" || d.telegram.ChatID == "" {
		d.log.Warn("NOTIFY", "Telegram not configured, skipping operator message")
		monitoring.NotificationsTotal.WithLabelValues("telegram", "skipped").Inc()
		return
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": d.telegram.ChatID,
		"text":    summary,
	})
	if err != nil {
		d.log.Error("NOTIFY", fmt.Sprintf("Failed to marshal Telegram payload: %v", err))
		monitoring.NotificationsTotal.WithLabelValues("telegram", "error").Inc()
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", d.telegramBaseURL, d.telegram.BotToken)
	resp, err := d.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		d.log.Error("NOTIFY", fmt.Sprintf("Telegram request failed: %v", err))
		monitoring.NotificationsTotal.WithLabelValues("telegram", "error").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.log.Error("NOTIFY", fmt.Sprintf("Telegram responded with status %d", resp.StatusCode))
		monitoring.NotificationsTotal.WithLabelValues("telegram", "error").Inc()
		return
	}

	monitoring.NotificationsTotal.WithLabelValues("telegram", "ok").Inc()
}
