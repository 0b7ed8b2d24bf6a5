package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"apato/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// Configured 返回 SMTP 配置是否完整。
func (n *EmailNotifier) Configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// Send 发送邮件通知。text 的第一行作为主题。
func (n *EmailNotifier) Send(ctx context.Context, toEmail, text string) error {
	if !n.Configured() {
		return fmt.Errorf("email config missing")
	}
	toEmail = strings.TrimSpace(toEmail)
	if toEmail == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		subject = text[:i]
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[apato] "+subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", buildHTMLBody(text))

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email notification sent", slog.String("to", toEmail))
	return nil
}

func buildHTMLBody(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <div style="max-width: 600px; margin: 24px auto;">
`)
	for i, line := range lines {
		escaped := html.EscapeString(line)
		switch {
		case i == 0:
			fmt.Fprintf(&b, "    <h2>%s</h2>\n", escaped)
		case strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://"):
			fmt.Fprintf(&b, "    <p><a href=\"%s\" target=\"_blank\">%s</a></p>\n", escaped, escaped)
		default:
			fmt.Fprintf(&b, "    <p>%s</p>\n", escaped)
		}
	}
	b.WriteString("  </div>\n</body>\n</html>")
	return b.String()
}
