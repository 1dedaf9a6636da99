package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Status string

const (
	Pending Status = "pending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

const (
	// SelfRecipient is the recipient word that means the operator's own address.
	SelfRecipient = "you"
	// SelfAlias is the contact name the operator's own address is stored under.
	SelfAlias = "me"
)

type ScheduledMessage struct {
	ID            int64      `json:"id"`
	RecipientName string     `json:"recipientName"`
	Address       string     `json:"address"`
	Body          string     `json:"body"`
	DueAt         time.Time  `json:"dueAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	Status        Status     `json:"status"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
}

// Due reports whether m is pending and eligible for dispatch at now.
func (m ScheduledMessage) Due(now time.Time) bool {
	return m.Status == Pending && !m.DueAt.After(now)
}

type Contact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// NormalizeName case-folds a contact name into its stored key form.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DisplayName returns the capitalized form of a stored contact name.
// A Caser keeps state, so one is built per call.
func DisplayName(name string) string {
	return cases.Title(language.Und).String(name)
}

func (c Contact) DisplayName() string {
	return DisplayName(c.Name)
}
