package domain

import "time"

// SessionGrant is the bearer credential a visitor holds after redeeming an access code.
// BotConfig is a snapshot of the code's bot config taken at redemption.
type SessionGrant struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	AccessCode string     `json:"accessCode"`
	Token      string     `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	BotConfig  *BotConfig `json:"botConfig,omitempty"`
}

func (g *SessionGrant) ExpiredAt(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

type AdminSession struct {
	ID        string    `json:"-"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a *AdminSession) ExpiredAt(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// TestAccessResponse is returned by a successful redemption.
type TestAccessResponse struct {
	Token        string     `json:"token"`
	SessionID    string     `json:"sessionId"`
	Email        string     `json:"email"`
	AccessCode   string     `json:"accessCode"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	CustomerName string     `json:"customerName,omitempty"`
	BotConfig    *BotConfig `json:"botConfig,omitempty"`
}

type TestSessionResponse struct {
	Valid      bool       `json:"valid"`
	SessionID  string     `json:"sessionId"`
	Email      string     `json:"email"`
	AccessCode string     `json:"accessCode"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	BotConfig  *BotConfig `json:"botConfig,omitempty"`
}

type AdminLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ChatResponse struct {
	Response   string `json:"response"`
	Fallback   bool   `json:"fallback,omitempty"`
	ContactURL string `json:"contactUrl,omitempty"`
}

type VoiceConfigResponse struct {
	AssistantID string `json:"assistantId"`
	PublicKey   string `json:"publicKey,omitempty"`
	BotName     string `json:"botName,omitempty"`
	Greeting    string `json:"greeting,omitempty"`
}
