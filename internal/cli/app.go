package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BakeLens/shellgate/internal/config"
	"github.com/BakeLens/shellgate/internal/fileutil"
	"github.com/BakeLens/shellgate/internal/logger"
	"github.com/BakeLens/shellgate/internal/permission"
	"github.com/BakeLens/shellgate/internal/process"
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/sandbox"
	"github.com/BakeLens/shellgate/internal/telemetry"
	"github.com/BakeLens/shellgate/internal/tool"
	"github.com/BakeLens/shellgate/internal/tui"
)

// app holds everything built from the config file and the environment.
// close releases it in reverse order.
type app struct {
	cfg        *config.Config
	secrets    *config.Secrets
	engine     *rules.Engine
	classifier *rules.Classifier
	storage    *telemetry.Storage // nil when storage is disabled
	watcher    *rules.Watcher
}

// loadConfig reads and validates the config. The --log-level flag wins
// over log.level.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, usageError(fmt.Errorf("load config %s: %w", g.configPath, err))
	}
	if g.logLevel == "" {
		logger.SetGlobalLevelFromString(string(cfg.Log.Level))
	}
	if cfg.Log.NoColor {
		logger.SetColored(false)
		tui.SetPlainMode(true)
	}
	if err := cfg.ResolveProjectRoot(); err != nil {
		return nil, usageError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

// openApp builds the policy engine and, when withStorage is set and storage
// is enabled, the audit database.
func (g *globalFlags) openApp(withStorage, watch bool) (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, usageError(err)
	}
	if err := secrets.ValidateDBKey(); err != nil {
		return nil, usageError(err)
	}
	log.Debug("secrets: %s", secrets)

	a := &app{cfg: cfg, secrets: secrets}
	a.engine, err = rules.NewEngine(rules.EngineConfig{
		PolicyDir:      cfg.Policy.Dir,
		DisableBuiltin: cfg.Policy.DisableBuiltin,
	})
	if err != nil {
		return nil, err
	}
	a.classifier = rules.NewClassifier(rules.NewResolver(cfg.Project.Root, cfg.Project.Workspaces))

	if watch && cfg.Policy.Watch {
		w, err := rules.NewWatcher(a.engine)
		if err != nil {
			log.Warn("policy watcher unavailable: %v", err)
		} else if err := w.Start(); err != nil {
			log.Warn("policy watcher failed to start: %v", err)
		} else {
			a.watcher = w
		}
	}

	if withStorage && cfg.Storage.Enabled {
		if !secrets.HasDBEncryption() {
			log.Debug("audit database is not encrypted; set SHELLGATE_DB_KEY to encrypt it")
		}
		a.storage, err = openStorage(cfg.Storage.DBPath, secrets.DBKey)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// openStorage opens the audit database, creating it owner-only if it does
// not exist yet.
func openStorage(path, key string) (*telemetry.Storage, error) {
	if path == ":memory:" {
		return telemetry.NewStorage(path, key)
	}
	if err := fileutil.SecureMkdirAll(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fileutil.SecureWriteFile(path, nil); err != nil {
			return nil, fmt.Errorf("create audit database: %w", err)
		}
	} else if ok, err := fileutil.OwnerOnly(path); err == nil && !ok {
		log.Warn("audit database %s is readable by other users", path)
	}
	return telemetry.NewStorage(path, key)
}

func (a *app) close() {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			log.Debug("stop watcher: %v", err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			log.Warn("close audit database: %v", err)
		}
	}
}

// recorder returns the audit sink for executions.
func (a *app) recorder() telemetry.Recorder {
	if a.storage == nil {
		return telemetry.Discard{}
	}
	return a.storage
}

// newTool wires the command tool from the app's config. approver answers
// ask and pin requests.
func (a *app) newTool(approver permission.Approver) (*tool.Tool, error) {
	cfg := a.cfg
	var opts []permission.Option
	if a.secrets.HasPIN() {
		opts = append(opts, permission.WithPIN(a.secrets.PIN))
	}

	env := sandbox.WithoutSecrets(os.Environ())
	if cfg.Process.ScrubEnv {
		env = sandbox.ScrubbedEnv(cfg.Process.PassEnv...)
	}

	var sb sandbox.Sandbox = sandbox.Nop{}
	if cfg.Sandbox.Enabled {
		p, err := sandbox.NewPrefix(sandbox.PrefixConfig{
			Argv:   cfg.Sandbox.Wrapper,
			Shell:  cfg.Process.Shell,
			Marker: cfg.Sandbox.ViolationMarker,
		})
		if err != nil {
			return nil, &ExitCodeError{Code: ExitSpawn, Err: err}
		}
		sb = p
	}

	return tool.New(tool.Options{
		Policies:   a.engine,
		Classifier: a.classifier,
		Gate:       permission.NewGate(approver, opts...),
		Runner: &process.Runner{
			Shell:     cfg.Process.Shell,
			Dir:       cfg.Project.Root,
			Env:       env,
			Grace:     time.Duration(cfg.Process.GraceMs) * time.Millisecond,
			MaxOutput: cfg.Process.MaxOutputBytes,
		},
		Sandbox:         sb,
		Recorder:        a.recorder(),
		Agent:           cfg.Policy.Agent,
		ProjectRoot:     cfg.Project.Root,
		DefaultTimeout:  time.Duration(cfg.Process.DefaultTimeoutMs) * time.Millisecond,
		MaxTimeout:      time.Duration(cfg.Process.MaxTimeoutMs) * time.Millisecond,
		MaxOutput:       cfg.Process.MaxOutputBytes,
		TrustedCommands: cfg.Sandbox.TrustedCommands,
	})
}
