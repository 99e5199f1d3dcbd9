package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot-gateway/pkg/content"
	"github.com/go-go-golems/chatbot-gateway/pkg/gateway"
	"github.com/go-go-golems/chatbot-gateway/pkg/server"
	"github.com/go-go-golems/chatbot-gateway/pkg/session"
	"github.com/go-go-golems/chatbot-gateway/pkg/transcript"
	"github.com/go-go-golems/chatbot-gateway/pkg/turnevents"
)

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ServeCommand{}

type ServeSettings struct {
	Port           int    `glazed:"port"`
	Addr           string `glazed:"addr"`
	SessionTimeout string `glazed:"session-timeout"`
	SweepInterval  string `glazed:"sweep-interval"`
	TranscriptDB   string `glazed:"transcript-db"`
	Watch          bool   `glazed:"watch"`
}

func NewServeCommand() (*ServeCommand, error) {
	appSection, err := newAppSection()
	if err != nil {
		return nil, err
	}
	redisSection, err := turnevents.NewSection()
	if err != nil {
		return nil, err
	}

	return &ServeCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Run the chat gateway HTTP server"),
			cmds.WithFlags(
				fields.New(
					"port",
					fields.TypeInteger,
					fields.WithDefault(server.DefaultPort),
					fields.WithHelp("Listen port (env CHATBOT_PORT)"),
				),
				fields.New(
					"addr",
					fields.TypeString,
					fields.WithDefault(""),
					fields.WithHelp("Listen address; overrides --port when set"),
				),
				fields.New(
					"session-timeout",
					fields.TypeString,
					fields.WithDefault(session.DefaultTimeout.String()),
					fields.WithHelp("Idle time after which a session expires"),
				),
				fields.New(
					"sweep-interval",
					fields.TypeString,
					fields.WithDefault("5m"),
					fields.WithHelp("Interval of the background session sweep (0 disables it)"),
				),
				fields.New(
					"transcript-db",
					fields.TypeString,
					fields.WithDefault(""),
					fields.WithHelp("SQLite file receiving every completed turn (empty disables)"),
				),
				fields.New(
					"watch",
					fields.TypeBool,
					fields.WithDefault(true),
					fields.WithHelp("Log changes to files in the data directory"),
				),
			),
			cmds.WithSections(appSection, redisSection),
		),
	}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ServeSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	rs := &turnevents.Settings{}
	if err := parsed.DecodeSectionInto(turnevents.RedisSlug, rs); err != nil {
		return err
	}
	a, err := appFromValues(parsed)
	if err != nil {
		return err
	}
	return runServe(ctx, a, s, *rs)
}

func runServe(ctx context.Context, a *app, s *ServeSettings, rs turnevents.Settings) error {
	sessionTimeout, err := parseDuration("session-timeout", s.SessionTimeout)
	if err != nil {
		return err
	}
	sweepInterval, err := parseDuration("sweep-interval", s.SweepInterval)
	if err != nil {
		return err
	}

	addr := strings.TrimSpace(s.Addr)
	if addr == "" {
		addr = fmt.Sprintf(":%d", s.Port)
	}

	store := session.NewStore(session.WithTimeout(sessionTimeout))
	opts := []gateway.Option{gateway.WithLogger(log.Logger)}

	if path := strings.TrimSpace(s.TranscriptDB); path != "" {
		dsn, err := transcript.DSNForFile(path)
		if err != nil {
			return err
		}
		ts, err := transcript.NewSQLiteStore(dsn, log.Logger)
		if err != nil {
			return errors.Wrap(err, "open transcript store")
		}
		defer func() { _ = ts.Close() }()
		opts = append(opts, gateway.WithObserver(ts))
		log.Info().Str("path", path).Msg("writing transcript")
	}

	pub, err := turnevents.NewPublisher(rs, log.Logger)
	if err != nil {
		return errors.Wrap(err, "build event publisher")
	}
	defer func() { _ = pub.Close() }()
	opts = append(opts, gateway.WithObserver(pub))

	orch := gateway.New(store, a.resolver, a.composer, a.client, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.Watch {
		w := content.NewWatcher(a.dataDir, log.Logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Warn().Err(err).Str("dir", a.dataDir).Msg("content watcher stopped")
			}
		}()
	}

	logReport(runCheck(ctx, a, pub))

	srv := server.NewServer(server.Settings{
		Addr:          addr,
		SweepInterval: sweepInterval,
	}, orch, a.client, log.Logger)
	return srv.Run(ctx)
}

func parseDuration(flag, v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid --%s", flag)
	}
	if d < 0 {
		return 0, errors.Errorf("invalid --%s: must not be negative", flag)
	}
	return d, nil
}
