package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatbot-gateway/pkg/content"
	"github.com/go-go-golems/chatbot-gateway/pkg/ollama"
	"github.com/go-go-golems/chatbot-gateway/pkg/prompt"
	"github.com/go-go-golems/chatbot-gateway/pkg/settings"
)

const appSlug = "app"

func main() {
	root, err := newRootCmd()
	cobra.CheckErr(err)
	cobra.CheckErr(root.Execute())
}

func newRootCmd() (*cobra.Command, error) {
	root := &cobra.Command{
		Use:          "chatbot-gateway",
		Short:        "HTTP gateway between website chat clients and a local Ollama server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.InitLoggerFromCobra(cmd)
		},
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, root)

	if err := clay.InitGlazed("chatbot", root); err != nil {
		return nil, err
	}

	builders := []func() (cmds.Command, error){
		func() (cmds.Command, error) { return NewServeCommand() },
		func() (cmds.Command, error) { return NewCheckCommand() },
		func() (cmds.Command, error) { return NewPromptCommand() },
		func() (cmds.Command, error) { return NewConfigCommand() },
		func() (cmds.Command, error) { return NewTranscriptCommand() },
		func() (cmds.Command, error) { return NewEventsCommand() },
	}
	for _, build := range builders {
		c, err := build()
		if err != nil {
			return nil, err
		}
		command, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
		if err != nil {
			return nil, err
		}
		root.AddCommand(command)
	}
	return root, nil
}

func getMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv("CHATBOT",
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

// AppSettings locates the content directory and the config file.
type AppSettings struct {
	DataDir    string `glazed:"data-dir"`
	ConfigFile string `glazed:"config-file"`
}

func newAppSection() (schema.Section, error) {
	return schema.NewSection(
		appSlug,
		"Content and configuration files",
		schema.WithFields(
			fields.New(
				"data-dir",
				fields.TypeString,
				fields.WithDefault("data"),
				fields.WithHelp("Directory holding content.json, prompt and knowledge base files"),
			),
			fields.New(
				"config-file",
				fields.TypeString,
				fields.WithDefault("scripts/config.json"),
				fields.WithHelp("JSON file with a \"chatbot\" section overriding the built-in defaults"),
			),
		),
	)
}

// app bundles the pieces every command reads the configuration through.
type app struct {
	dataDir  string
	source   *content.Source
	resolver *settings.Resolver
	composer *prompt.Composer
	client   *ollama.Client
}

func appFromValues(parsed *values.Values) (*app, error) {
	s := &AppSettings{}
	if err := parsed.DecodeSectionInto(appSlug, s); err != nil {
		return nil, err
	}
	return newApp(*s), nil
}

func newApp(s AppSettings) *app {
	defaults, skipped := settings.DefaultsFromEnv()
	for _, sk := range skipped {
		log.Warn().Str("key", sk.Key).Str("reason", sk.Reason).Msg("environment override ignored")
	}

	source := content.NewSource(s.DataDir)
	return &app{
		dataDir:  s.DataDir,
		source:   source,
		resolver: settings.NewResolver(defaults, s.ConfigFile, source, log.Logger),
		composer: prompt.NewComposer(source, log.Logger),
		client:   ollama.NewClient(),
	}
}
