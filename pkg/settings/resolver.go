package settings

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatbot-gateway/pkg/content"
)

var envKeys = map[string]string{
	"ollama_url":   "OLLAMA_URL",
	"ollama_model": "OLLAMA_MODEL",
	"max_tokens":   "MAX_TOKENS",
	"temperature":  "TEMPERATURE",
}

// DefaultsFromEnv returns the built-in layer with environment overrides applied.
// Unparseable variables are reported and ignored.
func DefaultsFromEnv() (Layer, []Skipped) {
	v := viper.New()
	for key, env := range envKeys {
		_ = v.BindEnv(key, env)
	}
	l := Builtin()
	l.Name = "env"
	skipped := decodeInto(&l, v, "")
	return l, skipped
}

// FileLayer reads the "chatbot" section of a JSON configuration file.
// A missing file yields an empty layer and no error.
func FileLayer(path string) (Layer, []Skipped, error) {
	l := Layer{Name: "file"}
	if path == "" {
		return l, nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil, nil
	}
	if err != nil {
		return l, nil, errors.Wrap(err, "read config file")
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))); err != nil {
		return l, nil, errors.Wrap(err, "parse config file")
	}
	skipped := decodeInto(&l, v, "chatbot.")
	return l, skipped, nil
}

func decodeInto(l *Layer, v *viper.Viper, prefix string) []Skipped {
	var skipped []Skipped
	bad := func(key string, err error) {
		skipped = append(skipped, Skipped{Layer: l.Name, Key: key, Reason: err.Error()})
	}

	if key := prefix + "ollama_url"; v.IsSet(key) {
		if s, err := cast.ToStringE(v.Get(key)); err == nil {
			l.BackendURL = &s
		} else {
			bad(key, err)
		}
	}
	if key := prefix + "ollama_model"; v.IsSet(key) {
		if s, err := cast.ToStringE(v.Get(key)); err == nil {
			l.Model = &s
		} else {
			bad(key, err)
		}
	}
	if key := prefix + "max_tokens"; v.IsSet(key) {
		if n, err := cast.ToIntE(v.Get(key)); err == nil {
			l.MaxTokens = &n
		} else {
			bad(key, err)
		}
	}
	if key := prefix + "temperature"; v.IsSet(key) {
		if f, err := cast.ToFloat64E(v.Get(key)); err == nil {
			l.Temperature = &f
		} else {
			bad(key, err)
		}
	}
	return skipped
}

// ContentLayer maps settings.chatbotSettings of a content document.
func ContentLayer(doc *content.Document) Layer {
	l := Layer{Name: "content"}
	if doc == nil || doc.Settings.ChatbotSettings == nil {
		return l
	}
	cs := doc.Settings.ChatbotSettings
	l.BackendURL = cs.OllamaURL
	l.Model = cs.OllamaModel
	l.MaxTokens = cs.MaxTokens
	l.Temperature = cs.Temperature
	l.Enabled = cs.Enabled
	l.WelcomeMessage = cs.WelcomeMessage
	l.PromptMarkdown = ptr(cs.SystemPromptMarkdown)
	l.PromptAddition = ptr(cs.SystemPromptAddition)
	return l
}

// Resolver reads the file and content layers on every call. Failures degrade to
// the lower layers and are logged as warnings.
type Resolver struct {
	defaults   Layer
	configFile string
	source     *content.Source
	logger     zerolog.Logger
}

func NewResolver(defaults Layer, configFile string, source *content.Source, logger zerolog.Logger) *Resolver {
	return &Resolver{
		defaults:   defaults,
		configFile: configFile,
		source:     source,
		logger:     logger.With().Str("component", "settings").Logger(),
	}
}

func (r *Resolver) Resolve() Effective {
	file, skipped, err := FileLayer(r.configFile)
	if err != nil {
		r.logger.Warn().Err(err).Str("file", r.configFile).Msg("config file ignored")
	}

	var doc *content.Document
	if r.source != nil {
		doc, err = r.source.Load()
		if err != nil && !content.IsNotExist(err) {
			r.logger.Warn().Err(err).Msg("content settings ignored")
		}
	}

	eff, rejected := Resolve(r.defaults, file, ContentLayer(doc))
	for _, s := range append(skipped, rejected...) {
		r.logger.Warn().Str("layer", s.Layer).Str("key", s.Key).Str("reason", s.Reason).Msg("setting ignored")
	}
	return eff
}
