// Package cli implements the memoryd commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/lewisedginton/chat_memory/internal/config"
	"github.com/lewisedginton/chat_memory/internal/server"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// app carries what every command needs once the root has parsed its flags.
type app struct {
	configFile string
	logLevel   string
	version    string

	cfg *appconfig.AppConfig
	log logger.Logger
	out io.Writer
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version, out: os.Stdout}

	root := &cobra.Command{
		Use:           "memoryd",
		Short:         "Conversational memory and state cache service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", os.Getenv("CONFIG_FILE"), "Path to YAML configuration file (env CONFIG_FILE)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		serveCommand(a),
		optimizeCommand(a),
		statsCommand(a),
		exportCommand(a),
		importCommand(a),
		migrateCommand(a),
		configCommand(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := appconfig.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.LogLevel = a.logLevel
	}
	if a.version != "" {
		cfg.Version = a.version
	}
	a.cfg = cfg
	a.log = logger.NewLogger(logger.Config{
		Level:   cfg.LogLevel(),
		Format:  cfg.Logging.LogFormat,
		Service: cfg.ServiceName,
		Output:  os.Stderr,
	})
	return nil
}

// withComponents opens the backend for a one-shot command and closes it
// afterwards.
func (a *app) withComponents(ctx context.Context, fn func(*server.Components) error) (err error) {
	c, err := server.Open(ctx, a.cfg, a.log, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(c)
}

func (a *app) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}
