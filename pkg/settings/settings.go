// Package settings resolves the effective chatbot configuration from three layers,
// in increasing precedence:
//
//  1. built-in defaults, overridable by OLLAMA_URL, OLLAMA_MODEL, MAX_TOKENS, TEMPERATURE
//  2. the "chatbot" section of the file configuration (scripts/config.json)
//  3. settings.chatbotSettings in the admin-managed content.json
//
// Resolve is a pure function over the three layers; Resolver does the reading.
package settings

import (
	"strings"
)

const (
	DefaultBackendURL     = "http://localhost:11434"
	DefaultModel          = "llama3.2:latest"
	DefaultMaxTokens      = 1024
	DefaultTemperature    = 0.7
	DefaultWelcomeMessage = "Willkommen! Ich bin der KernelFlow Assistent."

	MaxTemperature = 2.0
)

// Effective is the fully resolved configuration. Every field is always set.
type Effective struct {
	BackendURL     string  `json:"ollama_url"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	Enabled        bool    `json:"enabled"`
	WelcomeMessage string  `json:"welcome_message"`

	// Prompt overrides from the content layer; blank means "not set".
	PromptMarkdown string `json:"-"`
	PromptAddition string `json:"-"`
}

// Layer holds the values one source provides. Nil means the source does not set the key.
type Layer struct {
	Name           string
	BackendURL     *string
	Model          *string
	MaxTokens      *int
	Temperature    *float64
	Enabled        *bool
	WelcomeMessage *string
	PromptMarkdown *string
	PromptAddition *string
}

// Skipped describes a value that was present in a layer but rejected.
type Skipped struct {
	Layer  string
	Key    string
	Reason string
}

// Builtin returns the hard-coded defaults as a layer.
func Builtin() Layer {
	return Layer{
		Name:           "builtin",
		BackendURL:     ptr(DefaultBackendURL),
		Model:          ptr(DefaultModel),
		MaxTokens:      ptr(DefaultMaxTokens),
		Temperature:    ptr(DefaultTemperature),
		Enabled:        ptr(true),
		WelcomeMessage: ptr(DefaultWelcomeMessage),
	}
}

// Resolve layers defaults < file < content. A value only wins when it is valid:
// non-blank strings, a positive token cap, a temperature in [0, MaxTemperature].
// Rejected values are reported in the second return value and never fail resolution.
func Resolve(defaults, file, content Layer) (Effective, []Skipped) {
	eff := Effective{
		BackendURL:     DefaultBackendURL,
		Model:          DefaultModel,
		MaxTokens:      DefaultMaxTokens,
		Temperature:    DefaultTemperature,
		Enabled:        true,
		WelcomeMessage: DefaultWelcomeMessage,
	}
	var skipped []Skipped
	for _, l := range []Layer{defaults, file, content} {
		skipped = append(skipped, apply(&eff, l)...)
	}
	return eff, skipped
}

func apply(eff *Effective, l Layer) []Skipped {
	var skipped []Skipped
	skip := func(key, reason string) {
		skipped = append(skipped, Skipped{Layer: l.Name, Key: key, Reason: reason})
	}

	if l.BackendURL != nil {
		if v := strings.TrimRight(strings.TrimSpace(*l.BackendURL), "/"); v != "" {
			eff.BackendURL = v
		} else {
			skip("ollamaUrl", "blank")
		}
	}
	if l.Model != nil {
		if v := strings.TrimSpace(*l.Model); v != "" {
			eff.Model = v
		} else {
			skip("ollamaModel", "blank")
		}
	}
	if l.MaxTokens != nil {
		if *l.MaxTokens > 0 {
			eff.MaxTokens = *l.MaxTokens
		} else {
			skip("maxTokens", "must be positive")
		}
	}
	if l.Temperature != nil {
		if t := *l.Temperature; t >= 0 && t <= MaxTemperature {
			eff.Temperature = t
		} else {
			skip("temperature", "out of range")
		}
	}
	if l.Enabled != nil {
		eff.Enabled = *l.Enabled
	}
	if l.WelcomeMessage != nil && strings.TrimSpace(*l.WelcomeMessage) != "" {
		eff.WelcomeMessage = *l.WelcomeMessage
	}
	if l.PromptMarkdown != nil {
		eff.PromptMarkdown = *l.PromptMarkdown
	}
	if l.PromptAddition != nil {
		eff.PromptAddition = *l.PromptAddition
	}
	return skipped
}

func ptr[T any](v T) *T { return &v }
