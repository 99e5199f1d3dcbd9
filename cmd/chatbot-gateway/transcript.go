package main

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot-gateway/pkg/transcript"
)

type TranscriptCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &TranscriptCommand{}

type TranscriptSettings struct {
	DB      string `glazed:"db"`
	Session string `glazed:"session"`
	Since   string `glazed:"since"`
	Limit   int    `glazed:"limit"`
}

func NewTranscriptCommand() (*TranscriptCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	return &TranscriptCommand{
		CommandDescription: cmds.NewCommandDescription(
			"transcript",
			cmds.WithShort("List turns stored in a transcript database"),
			cmds.WithFlags(
				fields.New(
					"db",
					fields.TypeString,
					fields.WithRequired(true),
					fields.WithHelp("Transcript SQLite file written by serve --transcript-db"),
				),
				fields.New(
					"session",
					fields.TypeString,
					fields.WithDefault(""),
					fields.WithHelp("Only show turns of this session"),
				),
				fields.New(
					"since",
					fields.TypeString,
					fields.WithDefault(""),
					fields.WithHelp("Only show turns newer than this duration, e.g. 2h"),
				),
				fields.New(
					"limit",
					fields.TypeInteger,
					fields.WithDefault(50),
					fields.WithHelp("Maximum number of turns (most recent)"),
				),
			),
			cmds.WithSections(glazedSection, commandSettingsSection),
		),
	}, nil
}

func (c *TranscriptCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &TranscriptSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	entries, err := listTranscript(ctx, s, time.Now())
	if err != nil {
		return err
	}
	for _, e := range entries {
		row := types.NewRow(
			types.MRP("at", time.UnixMilli(e.CreatedAtMs).Format(time.RFC3339)),
			types.MRP("session_id", e.SessionID),
			types.MRP("seq", e.Seq),
			types.MRP("model", e.Model),
			types.MRP("user", e.User),
			types.MRP("assistant", e.Assistant),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func listTranscript(ctx context.Context, s *TranscriptSettings, now time.Time) ([]transcript.Entry, error) {
	since, err := parseDuration("since", s.Since)
	if err != nil {
		return nil, err
	}
	dsn, err := transcript.DSNForFile(s.DB)
	if err != nil {
		return nil, err
	}
	ts, err := transcript.NewSQLiteStore(dsn, log.Logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ts.Close() }()

	q := transcript.Query{SessionID: s.Session, Limit: s.Limit}
	if since > 0 {
		q.SinceMs = now.Add(-since).UnixMilli()
	}
	return ts.List(ctx, q)
}
