package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/itzg/go-flagsfiller"
	"github.com/itzg/mc-seat-proxy/server"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	exitConfigError = 2
	exitBindError   = 3
)

type CliConfig struct {
	Version bool `usage:"Output version and exit"`
	Debug   bool `usage:"Enable debug logs"`
	Trace   bool `usage:"Enable trace logs"`

	ServerConfig server.Config `flatten:"true"`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func showVersion() {
	fmt.Printf("%v, commit %v, built at %v", version, commit, date)
}

func main() {
	// settings may come from a .env file next to the process, but the file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Fatal("Could not read .env file")
	}

	var cliConfig CliConfig
	filler := flagsfiller.New(flagsfiller.WithEnv(""))
	if err := filler.Fill(flag.CommandLine, &cliConfig); err != nil {
		logrus.WithError(err).Fatal("Unable to setup flags")
	}
	flag.Parse()

	if cliConfig.Version {
		showVersion()
		os.Exit(0)
	}

	if cliConfig.Trace {
		logrus.SetLevel(logrus.TraceLevel)
	} else if cliConfig.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("Debug logs enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := server.NewServer(ctx, &cliConfig.ServerConfig)
	if err != nil {
		var configErr *server.ConfigError
		if errors.As(err, &configErr) {
			logrus.WithError(err).Error("Could not start mc-seat-proxy")
			os.Exit(exitConfigError)
		}
		logrus.WithError(err).Fatal("Could not setup server")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range signals {
			switch sig {
			case syscall.SIGHUP:
				logrus.Info("Received SIGHUP, reloading proxy config")
				s.ReloadConfig()
			default:
				logrus.WithField("signal", sig).Info("Stopping")
				cancel()
				return
			}
		}
	}()

	logrus.WithField("version", version).Info("Starting mc-seat-proxy")
	if err := s.Run(); err != nil {
		var bindErr *server.BindError
		if errors.As(err, &bindErr) {
			logrus.WithError(err).Error("Could not accept client connections")
			os.Exit(exitBindError)
		}
		logrus.WithError(err).Fatal("Server failed")
	}
}
