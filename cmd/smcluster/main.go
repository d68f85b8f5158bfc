// Command smcluster finds networks of social-media pages that publish the
// same content.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hurttlocker/smcluster/internal/config"
	"github.com/hurttlocker/smcluster/internal/logging"
)

const version = "0.1.0"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "smcluster",
		Usage:     "cluster pages that repeatedly publish identical content",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "config file",
				Value:   config.DefaultConfigPath(),
				EnvVars: []string{"SMCLUSTER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console or json",
			},
		},
		Commands: []*cli.Command{
			clusterCommand(),
			synthCommand(),
			mcpCommand(),
			runsCommand(),
			configCommand(),
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(cctx *cli.Context) error {
					fmt.Fprintf(cctx.App.Writer, "smcluster %s\n", version)
					return nil
				},
			},
		},
	}
}

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level":             config.KeyLogLevel,
	"log-format":            config.KeyLogFormat,
	"output":                config.KeyOutput,
	"min-threshold":         config.KeyMinThreshold,
	"second-cluster-factor": config.KeySecondClusterFactor,
	"dampening-factor":      config.KeyDampeningFactor,
	"update-every":          config.KeyUpdateEvery,
	"max-group-size":        config.KeyMaxGroupSize,
	"workers":               config.KeyWorkers,
	"exclude":               config.KeyExcludeContent,
	"pmi-no-signal":         config.KeyPMINoSignal,
	"model":                 config.KeyLanguageModel,
	"tokenizer":             config.KeyLanguageTokenizer,
	"labels":                config.KeyLanguageConfig,
	"ort-lib":               config.KeyLanguageORTLibrary,
	"max-tokens":            config.KeyLanguageMaxTokens,
	"metrics-textfile":      config.KeyMetricsTextfile,
}

// resolve layers the config file, environment and every flag the user set
// on the command or its parents.
func resolve(cctx *cli.Context) (config.ResolvedConfig, error) {
	names := make([]string, 0, len(flagKeys))
	for name := range flagKeys {
		names = append(names, name)
	}
	sort.Strings(names)

	var overrides []config.Override
	for _, name := range names {
		if !cctx.IsSet(name) {
			continue
		}
		value := fmt.Sprint(cctx.Value(name))
		if name == "exclude" {
			value = strings.Join(cctx.StringSlice(name), config.ListSeparator)
		}
		overrides = append(overrides, config.Override{Key: flagKeys[name], Value: value, Flag: "--" + name})
	}
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath: cctx.String("config"),
		CLI:        overrides,
	})
}

// settings resolves, validates and builds the logger.
func settings(cctx *cli.Context) (config.Settings, *zap.Logger, error) {
	resolved, err := resolve(cctx)
	if err != nil {
		return config.Settings{}, nil, err
	}
	s, err := resolved.Settings()
	if err != nil {
		return s, nil, err
	}
	log, err := logging.NewWithWriter(s.LogLevel, s.LogFormat, cctx.App.ErrWriter)
	if err != nil {
		return s, nil, err
	}
	return s, log, nil
}
