// Command diarizer tells two conversation participants apart from a local
// microphone or over a websocket.
//
// Usage:
//
//	diarizer [flags] <command>
//
// Commands:
//
//	listen  - detect who is speaking from the default capture device
//	enroll  - record calibration samples for speaker A and speaker B
//	status  - show the enrollment state of the configured owner
//	serve   - serve the websocket protocol
//
// Configuration is read from .env, ./diarizer.yaml (or --config) and
// DIARIZER_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/lokutor-diarizer/internal/config"
	"github.com/lokutor-ai/lokutor-diarizer/internal/logging"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/diarization"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/profilestore"
)

var (
	configFile string
	envFile    string
	owner      string
)

var rootCmd = &cobra.Command{
	Use:           "diarizer",
	Short:         "Two-party speaker diarization",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./diarizer.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "profile owner (overrides store.owner)")

	rootCmd.AddCommand(listenCmd, enrollCmd, statusCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// app is what every command needs: settings, a logger and the profile store.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  profilestore.Store
}

func setup() (*app, error) {
	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		return nil, err
	}
	if owner != "" {
		cfg.Store.Owner = owner
	}
	logger := logging.New(cfg.Logging())

	var store profilestore.Store
	if cfg.Store.Dir == "" {
		logger.Warn("no store.dir configured, profiles are kept in memory only")
		store = profilestore.NewMemory()
	} else {
		store, err = profilestore.OpenBadger(profilestore.BadgerOptions{
			Dir:    cfg.Store.Dir,
			Logger: logger.Printf(),
		})
		if err != nil {
			return nil, err
		}
	}
	return &app{cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) engine(logger diarization.Logger) *diarization.Engine {
	return diarization.NewWithLogger(a.cfg.Engine(), logger,
		diarization.WithProfileStore(a.store, a.cfg.Store.Owner))
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close profile store", "error", err)
	}
}
