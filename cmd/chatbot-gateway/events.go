package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatbot-gateway/pkg/gateway"
	"github.com/go-go-golems/chatbot-gateway/pkg/turnevents"
)

type EventsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = &EventsCommand{}

type EventsSettings struct {
	Format string `glazed:"format"`
}

func NewEventsCommand() (*EventsCommand, error) {
	redisSection, err := turnevents.NewSection()
	if err != nil {
		return nil, err
	}

	return &EventsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"events",
			cmds.WithShort("Follow turn events published by a gateway on a Redis stream"),
			cmds.WithLong("Joins the consumer group at the stream tail and prints each event as it arrives until interrupted."),
			cmds.WithFlags(
				fields.New(
					"format",
					fields.TypeChoice,
					fields.WithChoices("json", "yaml"),
					fields.WithDefault("json"),
					fields.WithHelp("One JSON object per line, or a YAML document per event"),
				),
			),
			cmds.WithSections(redisSection),
		),
	}, nil
}

func (c *EventsCommand) RunIntoWriter(
	ctx context.Context,
	parsedLayers *values.Values,
	w io.Writer,
) error {
	s := &EventsSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	rs := &turnevents.Settings{}
	if err := parsedLayers.DecodeSectionInto(turnevents.RedisSlug, rs); err != nil {
		return err
	}
	rs.Enabled = true

	pub, err := turnevents.NewPublisher(*rs, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := pub.Ping(ctx); err != nil {
		return errors.Wrapf(err, "redis %s", rs.Addr)
	}
	ch, err := pub.Subscribe(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("transport", pub.Transport()).Msg("following turn events")
	return writeEvents(w, s.Format, ch)
}

// writeEvents prints events until ch is closed.
func writeEvents(w io.Writer, format string, ch <-chan gateway.Event) error {
	var encode func(ev gateway.Event) error
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		encode = func(ev gateway.Event) error { return enc.Encode(ev) }
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		encode = func(ev gateway.Event) error { return enc.Encode(ev) }
	default:
		return errors.Errorf("unknown format %q", format)
	}

	for ev := range ch {
		if err := encode(ev); err != nil {
			return err
		}
	}
	return nil
}
