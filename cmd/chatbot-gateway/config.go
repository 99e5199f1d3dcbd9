package main

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazed_settings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"

	"github.com/go-go-golems/chatbot-gateway/pkg/settings"
)

type ConfigCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &ConfigCommand{}

func NewConfigCommand() (*ConfigCommand, error) {
	glazedSection, err := glazed_settings.NewGlazedSection()
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

	return &ConfigCommand{
		CommandDescription: cmds.NewCommandDescription(
			"config",
			cmds.WithShort("Print the effective chat settings"),
			cmds.WithLong("Layers the built-in defaults, the config file and content.json the way a chat turn does, and prints the result."),
			cmds.WithSections(glazedSection, commandSettingsSection, appSection),
		),
	}, nil
}

func (c *ConfigCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	a, err := appFromValues(parsedLayers)
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, settingsRow(a.resolver.Resolve()))
}

func settingsRow(eff settings.Effective) types.Row {
	return types.NewRow(
		types.MRP("ollama_url", eff.BackendURL),
		types.MRP("model", eff.Model),
		types.MRP("max_tokens", eff.MaxTokens),
		types.MRP("temperature", eff.Temperature),
		types.MRP("enabled", eff.Enabled),
		types.MRP("welcome_message", eff.WelcomeMessage),
	)
}
