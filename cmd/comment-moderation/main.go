package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"comment-moderation/config"
	"comment-moderation/internal/logger"
	"comment-moderation/internal/metrics"
	"comment-moderation/internal/rule"
	"comment-moderation/internal/store"
)

func main() {
	app := cli.App{
		Name:  "comment-moderation",
		Usage: "rule-based comment moderation: rule storage, offline checks and a message bus worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a JSON or YAML config file",
				EnvVars: []string{"CMOD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log verbosity (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "override the rule database path",
			},
		},
	}
	app.Commands = []*cli.Command{
		serveCommand(),
		rulesCommand(),
		&cli.Command{
			Name:      "check",
			Usage:     "validate rule files without storing them",
			ArgsUsage: "<path>...",
			Action:    runCheck,
		},
		&cli.Command{
			Name:      "decode",
			Usage:     "decode an encoded condition tree and print it",
			ArgsUsage: "[text | -]",
			Action:    runDecode,
		},
		&cli.Command{
			Name:      "moderate",
			Usage:     "moderate comments read from a file or stdin against the stored rules",
			ArgsUsage: "[path | -]",
			Action:    runModerate,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "rules",
					Usage: "also load rule files from this directory",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the global flag overrides.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyOverrides(0, cctx.String("db"), cctx.String("log-level"), "", 0)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads config and a logger. Commands other than serve print their
// results on stdout, so their logs are moved to stderr.
func setup(cctx *cli.Context, toStderr bool) (*config.Config, *logger.Logger, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, nil, err
	}
	if toStderr && cfg.Logging.OutputPath == "stdout" {
		cfg.Logging.OutputPath = "stderr"
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func newCodec(cfg *config.Config) *rule.Codec {
	return rule.NewCodec(rule.WithMaxDepth(cfg.Rules.MaxDepth))
}

func openStore(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*store.Repository, error) {
	return store.Open(cfg.Storage.Path, cfg.StorageTimeout(), newCodec(cfg), log, m)
}

func newProcessor(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*rule.Processor, error) {
	return rule.NewProcessor(rule.ProcessorConfig{
		Workers:          cfg.Processing.Workers,
		MaxDepth:         cfg.Rules.MaxDepth,
		PatternCacheSize: cfg.Rules.PatternCacheSize,
		MaxPatternLength: cfg.Rules.MaxPatternLength,
	}, log, m)
}

// collectRules returns the stored rules followed by the rules found in dir.
// Rows or files that fail to load are logged and left out.
func collectRules(repo *store.Repository, loader *rule.RulesLoader, dir string, log *logger.Logger) []rule.Rule {
	rules, err := repo.All()
	for _, e := range splitErrors(err) {
		if rule.IsOperatorFacing(e) {
			log.Warn("stored rule needs editing and was skipped", "error", e)
			continue
		}
		log.Error("stored rule is corrupted and was skipped",
			"kind", rule.DecodeErrorKind(e).String(),
			"error", e)
	}

	if dir != "" {
		fileRules, err := loader.LoadFromDirectory(dir)
		if err != nil {
			log.Error("failed to load rule directory", "path", dir, "error", err)
		} else {
			rules = append(rules, fileRules...)
		}
	}

	return rules
}
