// Package mail delivers monitor notifications over SMTP. The transport is
// opaque to the core: callers hand over severity, subject and body and never
// learn how delivery happened.
package mail

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/jtonini/cluster-monitor/internal/pkg/config"
)

// SendMailFunc abstracts smtp.SendMail so tests can capture outgoing mail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Client struct {
	conf     config.EmailConfig
	sendMail SendMailFunc
	hostname string
	logger   *slog.Logger
}

func New(conf config.EmailConfig, logger *slog.Logger) *Client {
	hostname, _ := os.Hostname()
	return &Client{
		conf:     conf,
		sendMail: smtp.SendMail,
		hostname: hostname,
		logger:   logger,
	}
}

// SetSendMail replaces the delivery function; test use only.
func (c *Client) SetSendMail(fn SendMailFunc) *Client {
	c.sendMail = fn
	return c
}

// Notify sends one message with the severity folded into the subject line.
// Disabled configuration is not an error; the message is logged and dropped.
func (c *Client) Notify(severity, subject, body string) error {
	if !c.conf.Enabled {
		c.logger.Info("email notifications disabled, dropping message", "subject", subject)
		return nil
	}

	full := fmt.Sprintf(`Cluster Node Monitor Alert
==========================

Time: %s
Host: %s
Severity: %s

%s

---
This is an automated message from the cluster monitor running on %s.
`, time.Now().Format("2006-01-02 15:04:05"), c.hostname, strings.ToUpper(severity), body, c.hostname)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.conf.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(c.conf.To, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", strings.ToUpper(severity), subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(full)

	addr := fmt.Sprintf("%s:%d", c.conf.SMTPServer, c.conf.SMTPPort)
	if err := c.sendMail(addr, nil, c.conf.From, c.conf.To, []byte(msg.String())); err != nil {
		c.logger.Error("unable to send notification", "subject", subject, "err", err)
		return fmt.Errorf("unable to send notification %q: %w", subject, err)
	}
	c.logger.Info("notification sent", "subject", subject, "severity", severity)
	return nil
}
