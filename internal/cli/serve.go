package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BakeLens/shellgate/internal/server"
	"github.com/BakeLens/shellgate/internal/tui"
)

func newServeCommand(g *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local management API",
		Long: `Serve exposes policy inspection, dry-run classification and the audit log
over HTTP on a loopback address until interrupted. Policy files are reloaded
on change when policy.watch is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.openApp(true, true)
			if err != nil {
				return err
			}
			defer a.close()
			if listen == "" {
				listen = a.cfg.API.Listen
			}

			m, err := server.Start(server.Options{
				Engine:     a.engine,
				Classifier: a.classifier,
				Storage:    a.storage,
				Agent:      a.cfg.Policy.Agent,
				Version:    Version,
			}, server.ManagerConfig{
				Listen:        listen,
				RetentionDays: a.cfg.Storage.RetentionDays,
			})
			if err != nil {
				return err
			}
			tui.Success(cmd.OutOrStdout(), "API listening on http://%s", m.Addr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return m.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: api.listen)")
	return cmd
}
