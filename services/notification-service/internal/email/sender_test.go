package email

import (
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildMessage(t *testing.T) {
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	msg := buildMessage(
		mail.Address{Name: "CleanRoute", Address: "no-reply@cleanroute.local"},
		mail.Address{Address: "dana@example.com"},
		"Reminder\r\nBcc: evil@example.com",
		"line one\nline two",
		at,
	)
	assert.True(t, strings.HasPrefix(msg, "From: \"CleanRoute\" <no-reply@cleanroute.local>\r\nTo: <dana@example.com>\r\n"))
	assert.Contains(t, msg, "Subject: Reminder  Bcc: evil@example.com\r\n")
	assert.Contains(t, msg, "Date: Mon, 02 Jun 2025 09:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nline one\r\nline two\r\n"))
}

func TestSendRejectsBadRecipient(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: "1"})
	assert.Error(t, s.Send("not an address", "s", "b"))
	assert.Equal(t, "no-reply@cleanroute.local", s.from.Address)
	assert.Nil(t, s.auth)
}
