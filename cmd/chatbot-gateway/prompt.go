package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"

	"github.com/go-go-golems/chatbot-gateway/pkg/prompt"
)

type PromptCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = &PromptCommand{}

type PromptSettings struct {
	StatsOnly bool `glazed:"stats-only"`
	Stats     bool `glazed:"stats"`
}

func NewPromptCommand() (*PromptCommand, error) {
	appSection, err := newAppSection()
	if err != nil {
		return nil, err
	}

	return &PromptCommand{
		CommandDescription: cmds.NewCommandDescription(
			"prompt",
			cmds.WithShort("Print the system prompt a chat turn would be sent with right now"),
			cmds.WithLong("Prints the composed system prompt. On a terminal a footer with the prompt source and its token, line and byte counts follows."),
			cmds.WithFlags(
				fields.New(
					"stats-only",
					fields.TypeBool,
					fields.WithDefault(false),
					fields.WithHelp("Only print the source and the token, line and byte counts"),
				),
				fields.New(
					"stats",
					fields.TypeBool,
					fields.WithDefault(false),
					fields.WithHelp("Always print the footer, even when output is not a terminal"),
				),
			),
			cmds.WithSections(appSection),
		),
	}, nil
}

func (c *PromptCommand) RunIntoWriter(
	ctx context.Context,
	parsedLayers *values.Values,
	w io.Writer,
) error {
	s := &PromptSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	a, err := appFromValues(parsedLayers)
	if err != nil {
		return err
	}
	if !s.Stats {
		s.Stats = isTerminal(w)
	}
	return writePrompt(w, a, s)
}

func writePrompt(w io.Writer, a *app, s *PromptSettings) error {
	eff := a.resolver.Resolve()
	text := a.composer.Compose(eff)
	_, origin := a.composer.Base(eff)

	if !s.StatsOnly {
		if _, err := fmt.Fprintln(w, text); err != nil {
			return err
		}
		if !s.Stats {
			return nil
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}

	st, err := prompt.Measure(text)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "source: %s, tokens: %d (cl100k_base), lines: %d, bytes: %d\n",
		origin, st.Tokens, st.Lines, st.Bytes)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
