// Package prompt assembles the system prompt sent ahead of every conversation.
//
// The composed prompt is never stored. Each call re-reads the prompt files, the
// knowledge base and content.json.
package prompt

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatbot-gateway/pkg/content"
	"github.com/go-go-golems/chatbot-gateway/pkg/settings"
)

const (
	DefaultBase = "Du bist ein hilfreicher Assistent für die KernelFlow-Webseite. Antworte höflich und informativ auf Deutsch."

	Separator           = "\n\n---\n\n"
	KnowledgeBaseHeader = "# WISSENSBASIS"
	LiveDataHeader      = "# LIVE_DATEN"
	AdditionHeader      = "# ZUSÄTZLICHE ANWEISUNGEN"
)

// BaseOrigin names where the base instruction text came from.
type BaseOrigin string

const (
	OriginAdmin    BaseOrigin = "admin"
	OriginMarkdown BaseOrigin = content.PromptMarkdownFile
	OriginText     BaseOrigin = content.PromptTextFile
	OriginDefault  BaseOrigin = "default"
)

type Composer struct {
	source *content.Source
	logger zerolog.Logger
}

func NewComposer(source *content.Source, logger zerolog.Logger) *Composer {
	return &Composer{
		source: source,
		logger: logger.With().Str("component", "prompt").Logger(),
	}
}

// Compose builds base, knowledge base, live data and admin addition, in that order.
// Missing or unreadable sources are left out.
func (c *Composer) Compose(eff settings.Effective) string {
	base, _ := c.Base(eff)

	var b strings.Builder
	b.WriteString(base)

	if kb := c.KnowledgeBase(); kb != "" {
		section(&b, KnowledgeBaseHeader, kb)
	}
	if live := c.LiveData(); live != "" {
		section(&b, LiveDataHeader, live)
	}
	if strings.TrimSpace(eff.PromptAddition) != "" {
		section(&b, AdditionHeader, eff.PromptAddition)
	}
	return b.String()
}

func section(b *strings.Builder, header, body string) {
	b.WriteString(Separator)
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(body)
}

// Base returns the base instruction text: admin markdown, else the .md file,
// else the .txt file, else DefaultBase. A present prompt file wins even when
// blank; one that cannot be read yields DefaultBase.
func (c *Composer) Base(eff settings.Effective) (string, BaseOrigin) {
	if strings.TrimSpace(eff.PromptMarkdown) != "" {
		return eff.PromptMarkdown, OriginAdmin
	}
	if c.source == nil {
		return DefaultBase, OriginDefault
	}
	for _, name := range []string{content.PromptMarkdownFile, content.PromptTextFile} {
		text, ok, err := c.source.ReadText(name)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", name).Msg("prompt file unreadable, using default")
			return DefaultBase, OriginDefault
		}
		if ok {
			return text, BaseOrigin(name)
		}
	}
	return DefaultBase, OriginDefault
}

// KnowledgeBase returns the knowledge base document, or "" when absent or blank.
func (c *Composer) KnowledgeBase() string {
	text, ok := c.readText(content.KnowledgeBaseFile)
	if !ok || strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}

// LiveData renders content.json. Read or parse failures yield "".
func (c *Composer) LiveData() string {
	if c.source == nil {
		return ""
	}
	doc, err := c.source.Load()
	if err != nil {
		if !content.IsNotExist(err) {
			c.logger.Warn().Err(err).Msg("live data skipped")
		}
		return ""
	}
	return RenderLiveData(doc)
}

func (c *Composer) readText(name string) (string, bool) {
	if c.source == nil {
		return "", false
	}
	text, ok, err := c.source.ReadText(name)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", name).Msg("prompt source skipped")
		return "", false
	}
	return text, ok
}
