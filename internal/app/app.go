package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"despeed/internal/app/bootstrap"
	"despeed/internal/app/version"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const (
	flagSettings = "settings"
	flagTokens   = "tokens"
	flagProxies  = "proxies"
	flagDebug    = "debug"

	logLevelEnv = "DESPEED_LOG_LEVEL"
)

func Run() error {
	return NewApp().Run(os.Args)
}

func NewApp() *cli.App {
	return &cli.App{
		Name:    "despeed",
		Usage:   "Runs throughput measurements for a list of accounts and reports the results",
		Version: version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagSettings,
				Aliases: []string{"s"},
				EnvVars: []string{"DESPEED_SETTINGS"},
				Usage:   "settings file path",
			},
			&cli.StringFlag{
				Name:    flagTokens,
				Aliases: []string{"t"},
				Usage:   "token list file, one bearer token per line",
			},
			&cli.StringFlag{
				Name:    flagProxies,
				Aliases: []string{"p"},
				Usage:   "proxy list file, one proxy URL per line",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(cctx *cli.Context) error {
			if err := godotenv.Load(); err != nil {
				log.Warn("No .env file found. Falling back to system environment variables.")
			}
			log.SetLevel(resolveLogLevel(os.Getenv(logLevelEnv), cctx.Bool(flagDebug)))
			return nil
		},
		Commands: []*cli.Command{
			runCmd,
			autoCmd,
			checkCmd,
			historyCmd,
			watchCmd,
			geoliteCmd,
		},
	}
}

// resolveLogLevel maps DESPEED_LOG_LEVEL to a level. The debug flag always wins; an
// unknown value falls back to info.
func resolveLogLevel(raw string, debug bool) log.Level {
	if debug {
		return log.DebugLevel
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(strings.ToLower(raw))
	if err != nil {
		log.Warn("invalid log level override", "env", logLevelEnv, "value", raw)
		return log.InfoLevel
	}
	return level
}

func pathsFromContext(cctx *cli.Context) bootstrap.Paths {
	return bootstrap.Paths{
		Settings: cctx.String(flagSettings),
		Tokens:   cctx.String(flagTokens),
		Proxies:  cctx.String(flagProxies),
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func setupComponents(cctx *cli.Context) (*bootstrap.Components, error) {
	cfg, err := bootstrap.LoadConfig(pathsFromContext(cctx))
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return bootstrap.Setup(cctx.Context, cfg)
}
