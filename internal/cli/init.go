package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BakeLens/shellgate/internal/config"
	"github.com/BakeLens/shellgate/internal/fileutil"
	"github.com/BakeLens/shellgate/internal/tui"
)

const configHeader = `# shellgate configuration. Secrets are read from the environment only:
#   SHELLGATE_PIN     unlocks pin-tier commands
#   SHELLGATE_DB_KEY  encrypts the audit database (16+ characters)
`

func newInitCommand(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the policy directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if _, err := os.Stat(g.configPath); err == nil && !force {
				return usageError(fmt.Errorf("%s already exists (use --force to overwrite)", g.configPath))
			}

			cfg := config.DefaultConfig()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := fileutil.SecureMkdirAll(filepath.Dir(g.configPath)); err != nil {
				return err
			}
			if err := fileutil.SecureWriteFile(g.configPath, append([]byte(configHeader), data...)); err != nil {
				return err
			}
			tui.Success(w, "wrote %s", g.configPath)

			if err := fileutil.SecureMkdirAll(cfg.Policy.Dir); err != nil {
				return err
			}
			tui.Info(w, "policy directory: %s", cfg.Policy.Dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
