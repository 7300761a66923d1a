// Package mailbox loads customer emails from a directory of text files or a
// spreadsheet export and groups them into conversations.
package mailbox

import (
	"context"
	"regexp"
	"strings"
	"time"
)

type Status string

const (
	Pending   Status = "Pending"
	Processed Status = "Processed"
)

// DefaultRecipient is the recipient of messages whose source has none.
const DefaultRecipient = "Customer Service"

// Email is one message. ConversationID is the group key shared by all
// messages of a thread.
type Email struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderEmail    string    `json:"sender_email,omitempty"`
	Recipient      string    `json:"recipient"`
	Timestamp      time.Time `json:"timestamp"`
	Subject        string    `json:"subject"`
	Content        string    `json:"content"`
	Company        string    `json:"company,omitempty"`
	Country        string    `json:"country,omitempty"`
	CSID           string    `json:"cs_id,omitempty"`
	Status         Status    `json:"status"`
	AICategory     string    `json:"ai_category,omitempty"`
	Path           string    `json:"path,omitempty"`
}

// Conversation summarises one thread.
type Conversation struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Sender  string    `json:"sender"`
	FirstAt time.Time `json:"first_at"`
	LastAt  time.Time `json:"last_at"`
	Count   int       `json:"count"`
	Status  Status    `json:"status"`
}

// Source produces the messages of a mailbox. Load returns every message in
// source order; the mailbox does the grouping and sorting.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]*Email, error)
}

var emailToken = regexp.MustCompile(`[^\s<>()\[\],;:"']+@[^\s<>()\[\],;:"']+\.[A-Za-z]{2,}`)

// FirstAddress returns the first email-like token of s, or "".
func FirstAddress(s string) string {
	return emailToken.FindString(s)
}

// formatSender renders "Name <email>", or just the address without a name.
func formatSender(name, email string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "unknown") {
		return email
	}
	return name + " <" + email + ">"
}
