package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"stockledger/internal/models"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// ErrUnsupportedChannel is returned for channels without a delivery backend.
var ErrUnsupportedChannel = errors.New("unsupported notification channel")

type NotificationSettings struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
	WebhookTimeout time.Duration
}

// Mailer delivers a composed email.
type Mailer interface {
	Send(ctx context.Context, message *mail.SGMailV3) error
}

type sendGridMailer struct {
	client *sendgrid.Client
}

func NewSendGridMailer(apiKey string) Mailer {
	return &sendGridMailer{client: sendgrid.NewSendClient(apiKey)}
}

func (m *sendGridMailer) Send(ctx context.Context, message *mail.SGMailV3) error {
	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}
	return nil
}

// logMailer stands in when no SendGrid key is configured.
type logMailer struct {
	logger *zap.Logger
}

func (m *logMailer) Send(ctx context.Context, message *mail.SGMailV3) error {
	to := ""
	if len(message.Personalizations) > 0 && len(message.Personalizations[0].To) > 0 {
		to = message.Personalizations[0].To[0].Address
	}
	m.logger.Info("email not sent, sendgrid is not configured", zap.String("to", to), zap.String("subject", message.Subject))
	return nil
}

const alertBodyTemplate = `{{.message}}

Product: {{.product_name}}{{if .sku}} ({{.sku}}){{end}}
Alert: {{.alert_type}} / {{.severity}}{{if .quantity_on_hand}}
Quantity on hand: {{.quantity_on_hand}}{{end}}
Raised at: {{.created_at}}
`

// NotificationService is the dispatch gateway used by the alert engine.
type NotificationService interface {
	Dispatcher
	SendEmail(ctx context.Context, recipient, subject, body string) error
	SendWebhook(ctx context.Context, url string, payload map[string]interface{}) error
	RenderBody(vars map[string]string) (string, error)
}

type notificationService struct {
	mailer     Mailer
	from       *mail.Email
	httpClient *http.Client
	body       *template.Template
	logger     *zap.Logger
}

func NewNotificationService(settings NotificationSettings, mailer Mailer, logger *zap.Logger) NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notifications")
	if mailer == nil {
		if settings.SendGridAPIKey != "" {
			mailer = NewSendGridMailer(settings.SendGridAPIKey)
		} else {
			mailer = &logMailer{logger: logger}
		}
	}
	timeout := settings.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &notificationService{
		mailer:     mailer,
		from:       mail.NewEmail(settings.FromName, settings.FromAddress),
		httpClient: &http.Client{Timeout: timeout},
		body:       template.Must(template.New("alert").Parse(alertBodyTemplate)),
		logger:     logger,
	}
}

// Send routes msg to its channel.
func (s *notificationService) Send(ctx context.Context, msg models.NotificationMessage) error {
	switch msg.Channel {
	case models.NotificationTypeEmail:
		body, err := s.RenderBody(msg.Variables)
		if err != nil {
			return err
		}
		return s.SendEmail(ctx, msg.Recipient, msg.Subject, body)
	case models.NotificationTypeWebhook:
		payload := map[string]interface{}{
			"subject":   msg.Subject,
			"variables": msg.Variables,
			"sent_at":   time.Now().UTC(),
		}
		return s.SendWebhook(ctx, msg.Recipient, payload)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, msg.Channel)
	}
}

func (s *notificationService) SendEmail(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return fmt.Errorf("to address is empty")
	}
	if s.from.Address == "" {
		return fmt.Errorf("from address is empty")
	}
	message := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", recipient), body, fmt.Sprintf("<pre>%s</pre>", body))
	if err := s.mailer.Send(ctx, message); err != nil {
		return err
	}
	s.logger.Debug("email sent", zap.String("to", recipient), zap.String("subject", subject))
	return nil
}

func (s *notificationService) SendWebhook(ctx context.Context, url string, payload map[string]interface{}) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "stockledger-alerts")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned non-success status: %d", resp.StatusCode)
	}
	s.logger.Debug("webhook delivered", zap.String("url", url), zap.Int("status", resp.StatusCode))
	return nil
}

func (s *notificationService) RenderBody(vars map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := s.body.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}
