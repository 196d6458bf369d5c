package main

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"github.com/llxisdsh/nbmap/internal/stress"
	"github.com/llxisdsh/nbmap/internal/stressconf"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func app() *cli.App {
	return &cli.App{
		Name:    "nbmap-stress",
		Usage:   "stress-test the nbmap concurrent hash map",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level: trace, debug, info, warn, error",
				EnvVars: []string{"NBMAP_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			scenarioCommand(),
		},
	}
}

func newLogger(level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "nbmap-stress",
		Level: hclog.LevelFromString(level),
	})
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "insert and remove keys from many goroutines while taking snapshots",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML configuration file"},
			&cli.IntFlag{Name: "writers", Usage: "number of writer goroutines"},
			&cli.IntFlag{Name: "keys", Usage: "distinct keys per writer"},
			&cli.IntFlag{Name: "remove-every", Usage: "remove every n-th key (0 disables)"},
			&cli.IntFlag{Name: "initial-capacity", Usage: "initial map capacity"},
			&cli.IntFlag{Name: "readers", Usage: "number of snapshot goroutines"},
			&cli.Float64Flag{Name: "snapshot-rate", Usage: "snapshots per second per reader (0 is unlimited)"},
			&cli.StringFlag{Name: "key-kind", Usage: "key generator: seq or ulid"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := stressconf.NewLoader(stressconf.WithConfigFile(c.String("config"))).Load(flagOverrides(c))
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if c.IsSet("log-level") {
				level = c.String("log-level")
			}
			logger := newLogger(level)

			report, err := stress.NewRunner(cfg, logger).Run(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "inserted %d, removed %d, live %d, snapshots %d in %s\n",
				report.Inserted, report.Removed, report.Live, report.Snapshots, report.Duration)
			fmt.Fprint(c.App.Writer, report.Stats.ToString())
			return nil
		},
	}
}

// flagOverrides maps explicitly set flags to configuration keys.
func flagOverrides(c *cli.Context) map[string]any {
	overrides := map[string]any{}
	for flag, key := range map[string]string{
		"writers":          "writers",
		"keys":             "keys",
		"remove-every":     "remove_every",
		"initial-capacity": "initial_capacity",
		"readers":          "readers",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.Int(flag)
		}
	}
	if c.IsSet("snapshot-rate") {
		overrides["snapshot_rate"] = c.Float64("snapshot-rate")
	}
	for flag, key := range map[string]string{
		"key-kind":     "key_kind",
		"metrics-addr": "metrics_addr",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	return overrides
}

func scenarioCommand() *cli.Command {
	return &cli.Command{
		Name:  "scenario",
		Usage: "run the 26-key insert-while-iterating scenario",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "repeat", Usage: "number of repetitions", Value: 100},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c.String("log-level"))
			iterations := 0
			for i := 0; i < c.Int("repeat"); i++ {
				res, err := stress.RunAlphabetScenario(logger)
				if err != nil {
					return fmt.Errorf("repetition %d: %w", i, err)
				}
				iterations += res.Iterations
			}
			fmt.Fprintf(c.App.Writer, "scenario passed %d times (%d iterations)\n", c.Int("repeat"), iterations)
			return nil
		},
	}
}
