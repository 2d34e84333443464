package domain

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/diagnosis/zks-preview/internal/utils"
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-level detail. It is safe to show to callers.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

type TestAccessRequest struct {
	Email      string `json:"email"`
	AccessCode string `json:"accessCode"`
}

func (r *TestAccessRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
	r.AccessCode = utils.NormalizeCode(r.AccessCode)
}

func (r *TestAccessRequest) Validate() error {
	ve := &ValidationError{}
	if r.Email == "" {
		ve.add("email", "is required")
	} else if !utils.IsValidEmail(r.Email) {
		ve.add("email", "invalid email format")
	}
	if r.AccessCode == "" {
		ve.add("accessCode", "is required")
	}
	return ve.orNil()
}

type AdminLoginRequest struct {
	Password string `json:"password"`
}

func (r *AdminLoginRequest) Validate() error {
	ve := &ValidationError{}
	if r.Password == "" {
		ve.add("password", "is required")
	}
	return ve.orNil()
}

type CreateAccessCodeRequest struct {
	Code            string     `json:"code"`
	Emails          []string   `json:"emails"`
	CustomerName    string     `json:"customerName,omitempty"`
	CustomerCompany string     `json:"customerCompany,omitempty"`
	ExpiresInHours  int        `json:"expiresInHours"`
	BotConfig       *BotConfig `json:"botConfig,omitempty"`
	Notify          bool       `json:"notify,omitempty"`
}

func (r *CreateAccessCodeRequest) Normalize() {
	r.Code = utils.NormalizeCode(r.Code)
	r.Emails = utils.NormalizeEmails(r.Emails)
	r.CustomerName = utils.NormalizeString(r.CustomerName)
	r.CustomerCompany = utils.NormalizeString(r.CustomerCompany)
	if r.BotConfig != nil {
		r.BotConfig.WebhookURL = strings.TrimSpace(r.BotConfig.WebhookURL)
		r.BotConfig.BotName = strings.TrimSpace(r.BotConfig.BotName)
		r.BotConfig.Greeting = strings.TrimSpace(r.BotConfig.Greeting)
		r.BotConfig.VoiceAssistantID = strings.TrimSpace(r.BotConfig.VoiceAssistantID)
		if r.BotConfig.IsZero() {
			r.BotConfig = nil
		}
	}
}

func (r *CreateAccessCodeRequest) Validate() error {
	ve := &ValidationError{}
	if r.Code == "" {
		ve.add("code", "is required")
	} else if strings.ContainsAny(r.Code, " /?#") {
		ve.add("code", "must not contain spaces or URL delimiters")
	}
	validateEmails(ve, r.Emails)
	if r.ExpiresInHours < MinCodeTTLHours || r.ExpiresInHours > MaxCodeTTLHours {
		ve.add("expiresInHours", fmt.Sprintf("must be between %d and %d", MinCodeTTLHours, MaxCodeTTLHours))
	}
	if r.BotConfig != nil && r.BotConfig.WebhookURL != "" {
		if u, err := url.Parse(r.BotConfig.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			ve.add("botConfig.webhookUrl", "must be an absolute http(s) URL")
		}
	}
	return ve.orNil()
}

type UpdateAllowListRequest struct {
	Emails []string `json:"emails"`
}

func (r *UpdateAllowListRequest) Normalize() {
	r.Emails = utils.NormalizeEmails(r.Emails)
}

func (r *UpdateAllowListRequest) Validate() error {
	ve := &ValidationError{}
	validateEmails(ve, r.Emails)
	return ve.orNil()
}

type ChatRequest struct {
	Message string `json:"message"`
}

const MaxChatMessageLength = 4000

func (r *ChatRequest) Normalize() {
	r.Message = strings.TrimSpace(r.Message)
}

func (r *ChatRequest) Validate() error {
	ve := &ValidationError{}
	if r.Message == "" {
		ve.add("message", "is required")
	} else if len(r.Message) > MaxChatMessageLength {
		ve.add("message", fmt.Sprintf("must be at most %d characters", MaxChatMessageLength))
	}
	return ve.orNil()
}

func validateEmails(ve *ValidationError, emails []string) {
	if len(emails) == 0 {
		ve.add("emails", "at least one email is required")
		return
	}
	for i, e := range emails {
		if !utils.IsValidEmail(e) {
			ve.add(fmt.Sprintf("emails[%d]", i), "invalid email format")
		}
	}
}
