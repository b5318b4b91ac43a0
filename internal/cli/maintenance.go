package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/server"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

func optimizeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Run one optimization cycle and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withComponents(cmd.Context(), func(c *server.Components) error {
				report, err := c.Optimizer.RunCycle(cmd.Context())
				if err != nil {
					a.log.Warn("Optimization cycle finished with errors", logger.ErrorField(err))
				}
				if printErr := a.printJSON(report); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func statsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print memory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withComponents(cmd.Context(), func(c *server.Components) error {
				summary, err := c.Stats.Summary(cmd.Context())
				if err != nil {
					return fmt.Errorf("stats: %w", err)
				}
				return a.printJSON(summary)
			})
		},
	}
}

func exportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every live memory to the export storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withComponents(cmd.Context(), func(c *server.Components) error {
				path, n, err := c.Exporter.Export(cmd.Context())
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				return a.printJSON(map[string]any{"path": path, "count": n})
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List existing exports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withComponents(cmd.Context(), func(c *server.Components) error {
				paths, err := c.Exporter.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("list exports: %w", err)
				}
				return a.printJSON(paths)
			})
		},
	})
	return cmd
}

func importCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Load memories from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd.Context(), func(c *server.Components) error {
				n, err := c.Exporter.Import(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("import %s: %w", args[0], err)
				}
				return a.printJSON(map[string]any{"path": args[0], "imported": n})
			})
		},
	}
}

func migrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the primary and fallback stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.migrate(cmd.Context())
		},
	}
}

// migrate opens each configured store, which applies pending migrations.
func (a *app) migrate(ctx context.Context) error {
	openers := []struct {
		name string
		open func(context.Context) error
	}{
		{"primary", func(ctx context.Context) error {
			opener := server.PrimaryOpener(a.cfg, a.log)
			if opener == nil {
				a.log.Info("Primary store disabled, skipping")
				return nil
			}
			return openAndClose(ctx, opener)
		}},
		{"fallback", func(ctx context.Context) error {
			return openAndClose(ctx, server.FallbackOpener(a.cfg, a.log))
		}},
	}
	for _, o := range openers {
		openCtx, cancel := context.WithTimeout(ctx, a.cfg.Backend.ConnectTimeout)
		err := o.open(openCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("migrate %s store: %w", o.name, err)
		}
		a.log.Info("Store migrated", logger.StringField("store", o.name))
	}
	return nil
}

func openAndClose(ctx context.Context, open backend.Opener) error {
	store, err := open(ctx)
	if err != nil {
		return err
	}
	return store.Close()
}
