package domain

import (
	"time"
)

const (
	MinCodeTTLHours = 1
	MaxCodeTTLHours = 168
)

// BotConfig points a preview session at a specific chat/voice backend.
type BotConfig struct {
	WebhookURL       string `json:"webhookUrl,omitempty"`
	BotName          string `json:"botName,omitempty"`
	Greeting         string `json:"greeting,omitempty"`
	VoiceAssistantID string `json:"voiceAssistantId,omitempty"`
}

func (b *BotConfig) IsZero() bool {
	return b == nil || *b == BotConfig{}
}

// AccessCode is an admin-issued credential gating a group of emails to a time-boxed preview.
type AccessCode struct {
	Code            string     `json:"code"`
	AllowedEmails   []string   `json:"emails"`
	CustomerName    string     `json:"customerName,omitempty"`
	CustomerCompany string     `json:"customerCompany,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	IsActive        bool       `json:"isActive"`
	BotConfig       *BotConfig `json:"botConfig,omitempty"`
}

// ActiveAt reports whether the code can still be redeemed at now.
func (c *AccessCode) ActiveAt(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// Allows reports whether a canonical email is on the allow-list.
func (c *AccessCode) Allows(email string) bool {
	for _, e := range c.AllowedEmails {
		if e == email {
			return true
		}
	}
	return false
}

// UsageStats tracks redemption history for one code.
type UsageStats struct {
	Code               string     `json:"code"`
	UniqueRedeemers    []string   `json:"uniqueRedeemers"`
	LastAccess         *time.Time `json:"lastAccess,omitempty"`
	ActiveSessionCount int        `json:"activeSessionCount"`
}

// AccessCodeWithUsage is the admin listing row.
type AccessCodeWithUsage struct {
	AccessCode
	Usage UsageStats `json:"usage"`
}
