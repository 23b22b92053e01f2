package mail

import (
	"log/slog"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtonini/cluster-monitor/internal/pkg/config"
)

func TestNotify(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	c := New(config.EmailConfig{
		Enabled:    true,
		From:       "cazuza@badenpowell",
		To:         []string{"ops@example.edu"},
		SMTPServer: "localhost",
		SMTPPort:   25,
	}, slog.Default()).SetSendMail(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	})

	require.NoError(t, c.Notify("critical", "cluster spydur: 5 node(s) down", "details here"))
	assert.Equal(t, "localhost:25", gotAddr)
	assert.Equal(t, "cazuza@badenpowell", gotFrom)
	assert.Equal(t, []string{"ops@example.edu"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [CRITICAL] cluster spydur: 5 node(s) down")
	assert.Contains(t, string(gotMsg), "details here")
}

func TestNotifyDisabled(t *testing.T) {
	called := false
	c := New(config.EmailConfig{Enabled: false}, slog.Default()).
		SetSendMail(func(string, smtp.Auth, string, []string, []byte) error {
			called = true
			return nil
		})

	require.NoError(t, c.Notify("info", "subject", "body"))
	assert.False(t, called)
}
