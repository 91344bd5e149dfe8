package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bluesky-social/banword/automod"
	"github.com/bluesky-social/banword/automod/flagstore"
	"github.com/bluesky-social/banword/automod/keyword"
	"github.com/bluesky-social/banword/automod/phrasestore"
	"github.com/bluesky-social/banword/automod/policy"
	"github.com/bluesky-social/banword/automod/scorestore"
	"github.com/bluesky-social/banword/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "banword",
		Usage:   "banned phrase moderation daemon for group chats",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "phrase-store",
			Usage:   "banned phrase storage: JSON file path, or database URL (sqlite://, postgres://)",
			Value:   "data/banword/ban_words.json",
			EnvVars: []string{"BANWORD_PHRASE_STORE"},
		},
		&cli.StringFlag{
			Name:    "score-store",
			Usage:   "subject score storage: JSON file path, redis:// URL, or pebble://<dir>",
			Value:   "data/banword/user_scores.json",
			EnvVars: []string{"BANWORD_SCORE_STORE"},
		},
		&cli.StringFlag{
			Name:    "scope-store",
			Usage:   "per-scope on/off switch storage: JSON file path, or redis:// URL",
			Value:   "data/banword/ban_status.json",
			EnvVars: []string{"BANWORD_SCOPE_STORE"},
		},
		&cli.BoolFlag{
			Name:    "scope-default-enabled",
			Usage:   "moderate scopes which were never switched on or off",
			EnvVars: []string{"BANWORD_SCOPE_DEFAULT_ENABLED"},
		},
		&cli.StringFlag{
			Name:    "policy-config",
			Usage:   "optional YAML file with threshold and mute duration, including per-scope overrides",
			EnvVars: []string{"BANWORD_POLICY_CONFIG"},
		},
		&cli.IntFlag{
			Name:    "threshold",
			Usage:   "default score at which a subject is muted (overrides policy config)",
			Value:   policy.DefaultThreshold,
			EnvVars: []string{"BANWORD_THRESHOLD"},
		},
		&cli.DurationFlag{
			Name:    "mute-duration",
			Usage:   "default mute duration on escalation (overrides policy config)",
			Value:   policy.DefaultMuteDuration,
			EnvVars: []string{"BANWORD_MUTE_DURATION"},
		},
		&cli.BoolFlag{
			Name:    "case-sensitive",
			Usage:   "match phrases with exact case",
			EnvVars: []string{"BANWORD_CASE_SENSITIVE"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit OpenTelemetry spans for phrase database queries",
			EnvVars: []string{"BANWORD_DB_TRACING"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"BANWORD_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (text, json)",
			EnvVars: []string{"BANWORD_LOG_FMT", "LOG_FMT"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		_, err := cliutil.SetupSlog(os.Stderr, cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		return err
	}

	app.Commands = []*cli.Command{
		serveCmd,
		phraseCmd,
		scoreCmd,
		scopeCmd,
		checkCmd,
	}

	return app.Run(args)
}

// closes whatever stores the engine opened
type closer func() error

func loadPolicy(cctx *cli.Context) (policy.Config, error) {
	cfg := policy.DefaultConfig()
	if p := cctx.String("policy-config"); p != "" {
		c, err := policy.LoadConfigYAML(p)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if cctx.IsSet("threshold") {
		cfg.Threshold = cctx.Int("threshold")
	}
	if cctx.IsSet("mute-duration") {
		cfg.MuteDuration = cctx.Duration("mute-duration")
	}
	return cfg, cfg.Validate()
}

func openPhraseStore(cctx *cli.Context, logger *slog.Logger) (phrasestore.PhraseStore, error) {
	loc := cctx.String("phrase-store")
	if cliutil.IsDatabaseURL(loc) {
		db, err := cliutil.SetupDatabase(loc, cctx.Int("max-db-connections"))
		if err != nil {
			return nil, err
		}
		if cctx.Bool("db-tracing") {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return nil, err
			}
		}
		return phrasestore.NewSQLPhraseStore(db, logger)
	}
	return phrasestore.NewFilePhraseStore(loc, logger), nil
}

func openScoreStore(cctx *cli.Context, logger *slog.Logger) (scorestore.ScoreStore, closer, error) {
	loc := cctx.String("score-store")
	noop := func() error { return nil }
	switch {
	case strings.HasPrefix(loc, "redis://") || strings.HasPrefix(loc, "rediss://"):
		s, err := scorestore.NewRedisScoreStore(loc)
		if err != nil {
			return nil, noop, fmt.Errorf("initializing redis scorestore: %w", err)
		}
		return s, s.Client.Close, nil
	case strings.HasPrefix(loc, "pebble://"):
		s, err := scorestore.OpenPebbleScoreStore(strings.TrimPrefix(loc, "pebble://"))
		if err != nil {
			return nil, noop, fmt.Errorf("initializing pebble scorestore: %w", err)
		}
		return s, s.Close, nil
	default:
		return scorestore.OpenFileScoreStore(loc, logger), noop, nil
	}
}

func openFlagStore(cctx *cli.Context, logger *slog.Logger) (flagstore.FlagStore, error) {
	loc := cctx.String("scope-store")
	def := cctx.Bool("scope-default-enabled")
	if strings.HasPrefix(loc, "redis://") || strings.HasPrefix(loc, "rediss://") {
		s, err := flagstore.NewRedisFlagStore(loc, def)
		if err != nil {
			return nil, fmt.Errorf("initializing redis flagstore: %w", err)
		}
		return s, nil
	}
	return flagstore.OpenFileFlagStore(loc, def, logger), nil
}

// configureEngine opens the configured stores and loads the phrase table.
func configureEngine(cctx *cli.Context, config automod.EngineConfig) (*automod.Engine, closer, error) {
	ctx := context.Background()
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
		config.Logger = logger
	}
	noop := func() error { return nil }

	pol, err := loadPolicy(cctx)
	if err != nil {
		return nil, noop, err
	}
	config.Policy = &pol
	config.IndexOptions = keyword.IndexOptions{
		CaseSensitive: cctx.Bool("case-sensitive"),
		CacheSize:     10_000,
		CacheTTL:      5 * time.Minute,
	}

	if config.Phrases, err = openPhraseStore(cctx, logger); err != nil {
		return nil, noop, err
	}
	if config.Flags, err = openFlagStore(cctx, logger); err != nil {
		return nil, noop, err
	}
	scores, closeScores, err := openScoreStore(cctx, logger)
	if err != nil {
		return nil, noop, err
	}
	config.Scores = scores

	eng, err := automod.NewEngine(config)
	if err != nil {
		return nil, noop, errors.Join(err, closeScores())
	}
	if err := eng.LoadPhrases(ctx); err != nil {
		return nil, noop, errors.Join(err, closeScores())
	}
	return eng, closeScores, nil
}
