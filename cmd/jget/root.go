package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"jget/internal/config"
)

var version = "dev"

var (
	cfgFile string
	v       = config.New()
	cfg     config.Config
	logger  = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:           "jget",
	Short:         "jget is a resumable multi-connection HTTP downloader",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return setupLogger(logger, cfg)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./jget.yaml)")
	pf.StringP("dir", "d", "", "Directory downloads are saved to")
	pf.IntP("connections", "c", 0, "Connections per download (default: number of CPUs)")
	pf.Duration("idle-timeout", 0, "Restart a connection after this long without data (eg. 30s, 2m)")
	pf.Int("max-failures", 0, "Failed attempts a segment absorbs before the download fails")
	pf.String("probe", "", "Discovery request method, HEAD or GET")
	pf.StringP("user-agent", "a", "", "User agent")
	pf.String("db", "", "Snapshot database path")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")

	bindFlags(pf, map[string]string{
		"dir":          "download.dir",
		"connections":  "download.connections",
		"idle-timeout": "download.idle_timeout",
		"max-failures": "download.max_failures",
		"probe":        "download.probe_method",
		"user-agent":   "download.user_agent",
		"db":           "database.path",
		"log-level":    "log.level",
	})
}

func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func setupLogger(l *logrus.Logger, cfg config.Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(level)
	l.SetOutput(os.Stderr)
	if strings.EqualFold(cfg.Log.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
