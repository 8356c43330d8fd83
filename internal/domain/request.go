package domain

import (
	"errors"
	"fmt"
)

// Default sampling parameters.
const (
	DefaultTemperature      = 0.5
	DefaultTopP             = 1.0
	DefaultFrequencyPenalty = 0.0
	DefaultPresencePenalty  = 0.0
)

// ChatRequest is an inbound chat-completion request.
type ChatRequest struct {
	Model            string    `json:"model,omitempty"`
	Messages         []Message `json:"messages"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
}

// Sampling holds resolved sampling parameters.
type Sampling struct {
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// Validate checks the message list.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// Sampling resolves unset parameters to their defaults.
func (r ChatRequest) Sampling() Sampling {
	return Sampling{
		Temperature:      valueOr(r.Temperature, DefaultTemperature),
		TopP:             valueOr(r.TopP, DefaultTopP),
		FrequencyPenalty: valueOr(r.FrequencyPenalty, DefaultFrequencyPenalty),
		PresencePenalty:  valueOr(r.PresencePenalty, DefaultPresencePenalty),
	}
}

// LastUserText returns the content of the last user message.
func (r ChatRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Text()
		}
	}
	return ""
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
