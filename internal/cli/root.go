// Package cli implements the shellgate command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/BakeLens/shellgate/internal/config"
	"github.com/BakeLens/shellgate/internal/logger"
	"github.com/BakeLens/shellgate/internal/tui"
)

var log = logger.New("cli")

// Version is set at build time via ldflags: -X github.com/BakeLens/shellgate/internal/cli.Version=x.y.z
var Version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	noColor    bool
}

// NewRootCommand builds the command tree. Each call returns a fresh tree so
// tests do not share flag state.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "shellgate",
		Short: "Permission gate for shell commands run by coding agents",
		Long: `shellgate classifies every shell command an agent wants to run against
a tiered policy (allow, ask, pin, deny), asks the user where the policy says
so, optionally runs the command inside a sandbox wrapper, and supervises the
process with a timeout and an output cap.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.apply()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	root.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultConfigPath(), "path to config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides config)")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newRunCommand(g),
		newCheckCommand(g),
		newPolicyCommand(g),
		newLogsCommand(g),
		newServeCommand(g),
		newInitCommand(g),
	)
	return root
}

func (g *globalFlags) apply() error {
	if g.noColor {
		tui.SetPlainMode(true)
		logger.SetColored(false)
	} else {
		logger.DetectColor()
	}
	if g.logLevel != "" {
		level, err := logger.ParseLevel(g.logLevel)
		if err != nil {
			return usageError(err)
		}
		logger.SetGlobalLevel(level)
	}
	return nil
}

// Execute runs the root command and returns any error.
func Execute() error {
	return NewRootCommand().Execute()
}
