// Package content reads the admin-managed site content (content.json) and the
// prompt and knowledge files kept next to it.
//
// Nothing is cached: every call reads the file system again, so edits made in the
// admin UI take effect on the next chat turn.
package content

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	ContentFile        = "content.json"
	PromptMarkdownFile = "chatbot-system-prompt.md"
	PromptTextFile     = "chatbot-system-prompt.txt"
	KnowledgeBaseFile  = "chatbot-wissensbasis.md"
)

// ChatbotSettings is settings.chatbotSettings. Pointer fields distinguish an
// absent key from a zero value.
type ChatbotSettings struct {
	Enabled              *bool    `json:"enabled,omitempty"`
	WelcomeMessage       *string  `json:"welcomeMessage,omitempty"`
	SystemPromptMarkdown string   `json:"systemPromptMarkdown,omitempty"`
	SystemPromptAddition string   `json:"systemPromptAddition,omitempty"`
	OllamaURL            *string  `json:"ollamaUrl,omitempty"`
	OllamaModel          *string  `json:"ollamaModel,omitempty"`
	MaxTokens            *int     `json:"maxTokens,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
}

type SiteSettings struct {
	CompanyName     string           `json:"companyName,omitempty"`
	ContactEmail    string           `json:"contactEmail,omitempty"`
	ContactPhone    string           `json:"contactPhone,omitempty"`
	ContactLocation string           `json:"contactLocation,omitempty"`
	ChatbotSettings *ChatbotSettings `json:"chatbotSettings,omitempty"`
}

// Product is a published or draft offering. Only published ones reach the prompt.
type Product struct {
	Name             string `json:"name,omitempty"`
	Status           string `json:"status,omitempty"`
	ShortDescription string `json:"shortDescription,omitempty"`
	Description      string `json:"description,omitempty"`
	PriceText        string `json:"priceText,omitempty"`
}

const StatusPublished = "published"

func (p Product) Published() bool { return p.Status == StatusPublished }

type Category struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Document is the subset of content.json the gateway reads. Unknown keys are ignored.
type Document struct {
	Settings   SiteSettings `json:"settings"`
	Products   []Product    `json:"products,omitempty"`
	Categories []Category   `json:"categories,omitempty"`
}

// Source locates the data directory.
type Source struct {
	Dir string
}

func NewSource(dir string) *Source {
	return &Source{Dir: dir}
}

func (s *Source) path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Load reads and parses content.json. A missing file returns os.ErrNotExist
// (wrapped); callers treat every error as "layer absent".
func (s *Source) Load() (*Document, error) {
	data, err := os.ReadFile(s.path(ContentFile))
	if err != nil {
		return nil, errors.Wrap(err, "read content file")
	}
	var doc Document
	if err := json.Unmarshal(trimBOM(data), &doc); err != nil {
		return nil, errors.Wrap(err, "parse content file")
	}
	return &doc, nil
}

// IsNotExist reports whether err stems from a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// ReadText reads one of the prompt or knowledge files. ok is false when the file
// does not exist; err is set for any other read failure.
func (s *Source) ReadText(name string) (text string, ok bool, err error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "read %s", name)
	}
	return string(trimBOM(data)), true, nil
}

// Exists reports whether name is present in the data directory.
func (s *Source) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func trimBOM(b []byte) []byte {
	return []byte(strings.TrimPrefix(string(b), "\ufeff"))
}
