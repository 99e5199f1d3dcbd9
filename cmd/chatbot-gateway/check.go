package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot-gateway/pkg/content"
	"github.com/go-go-golems/chatbot-gateway/pkg/prompt"
	"github.com/go-go-golems/chatbot-gateway/pkg/turnevents"
)

// Report is the result of the startup diagnostics.
type Report struct {
	BackendURL      string
	Model           string
	MaxTokens       int
	Temperature     float64
	Reachable       bool
	BackendError    string
	Models          []string
	ModelInstalled  bool
	PromptSource    string
	KnowledgeBase   bool
	EventsTransport string
	EventsError     string
}

const (
	statusOK   = "ok"
	statusWarn = "warn"
	statusFail = "error"
)

// checkItem is one line of the diagnostics table.
type checkItem struct {
	Check  string
	Status string
	Detail string
	Hint   string
}

type CheckCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &CheckCommand{}

func NewCheckCommand() (*CheckCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	appSection, err := newAppSection()
	if err != nil {
		return nil, err
	}
	redisSection, err := turnevents.NewSection()
	if err != nil {
		return nil, err
	}

	return &CheckCommand{
		CommandDescription: cmds.NewCommandDescription(
			"check",
			cmds.WithShort("Check backend reachability, model availability and prompt files"),
			cmds.WithLong("Runs the startup diagnostics once and prints one row per check. Exits with an error when Ollama is not reachable."),
			cmds.WithSections(glazedSection, commandSettingsSection, appSection, redisSection),
		),
	}, nil
}

func (c *CheckCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	a, err := appFromValues(parsedLayers)
	if err != nil {
		return err
	}
	rs := &turnevents.Settings{}
	if err := parsedLayers.DecodeSectionInto(turnevents.RedisSlug, rs); err != nil {
		return err
	}
	pub, err := turnevents.NewPublisher(*rs, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	r := runCheck(ctx, a, pub)
	for _, item := range r.items() {
		row := types.NewRow(
			types.MRP("check", item.Check),
			types.MRP("status", item.Status),
			types.MRP("detail", item.Detail),
			types.MRP("hint", item.Hint),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	if !r.Reachable {
		return errors.Errorf("ollama is not reachable at %s", r.BackendURL)
	}
	return nil
}

func runCheck(ctx context.Context, a *app, pub *turnevents.Publisher) Report {
	eff := a.resolver.Resolve()
	_, origin := a.composer.Base(eff)

	r := Report{
		BackendURL:    eff.BackendURL,
		Model:         eff.Model,
		MaxTokens:     eff.MaxTokens,
		Temperature:   eff.Temperature,
		Models:        []string{},
		PromptSource:  string(origin),
		KnowledgeBase: a.composer.KnowledgeBase() != "",
	}

	models, err := a.client.ListModels(ctx, eff.BackendURL)
	if err != nil {
		r.BackendError = err.Error()
	} else {
		r.Reachable = true
		r.Models = models
		r.ModelInstalled = slices.Contains(models, eff.Model)
	}

	if pub != nil {
		r.EventsTransport = pub.Transport()
		if err := pub.Ping(ctx); err != nil {
			r.EventsError = err.Error()
		}
	}
	return r
}

func (r Report) items() []checkItem {
	items := []checkItem{{
		Check:  "config",
		Status: statusOK,
		Detail: fmt.Sprintf("model %s, max tokens %d, temperature %g", r.Model, r.MaxTokens, r.Temperature),
	}}

	if r.Reachable {
		models := "none"
		if len(r.Models) > 0 {
			models = strings.Join(r.Models, ", ")
		}
		items = append(items, checkItem{Check: "ollama", Status: statusOK, Detail: r.BackendURL + " (models: " + models + ")"})
		if r.ModelInstalled {
			items = append(items, checkItem{Check: "model", Status: statusOK, Detail: r.Model})
		} else {
			items = append(items, checkItem{Check: "model", Status: statusWarn, Detail: r.Model + " not installed", Hint: "ollama pull " + r.Model})
		}
	} else {
		items = append(items, checkItem{Check: "ollama", Status: statusFail, Detail: r.BackendError, Hint: "ollama serve"})
	}

	if r.PromptSource == string(prompt.OriginDefault) {
		items = append(items, checkItem{Check: "prompt", Status: statusWarn, Detail: "no system prompt file, using the built-in default"})
	} else {
		items = append(items, checkItem{Check: "prompt", Status: statusOK, Detail: r.PromptSource})
	}

	if r.KnowledgeBase {
		items = append(items, checkItem{Check: "knowledge-base", Status: statusOK, Detail: content.KnowledgeBaseFile})
	} else {
		items = append(items, checkItem{Check: "knowledge-base", Status: statusWarn, Detail: "no knowledge base"})
	}

	if r.EventsError != "" {
		items = append(items, checkItem{Check: "events", Status: statusWarn, Detail: r.EventsTransport + ": " + r.EventsError})
	} else {
		items = append(items, checkItem{Check: "events", Status: statusOK, Detail: r.EventsTransport})
	}
	return items
}

// logReport writes the diagnostics to the log once at startup.
func logReport(r Report) {
	l := log.With().Str("component", "check").Logger()
	for _, item := range r.items() {
		ev := l.Info()
		switch item.Status {
		case statusWarn, statusFail:
			ev = l.Warn()
		}
		if item.Hint != "" {
			ev = ev.Str("hint", item.Hint)
		}
		ev.Str("check", item.Check).Msg(item.Detail)
	}
}
