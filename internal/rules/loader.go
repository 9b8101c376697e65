package rules

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Loader handles loading policy files from the embedded builtin set and the
// user policy directory
type Loader struct {
	userDir string
}

// NewLoader creates a new policy loader
func NewLoader(userDir string) *Loader {
	return &Loader{
		userDir: userDir,
	}
}

// LoadBuiltin loads all embedded builtin policy files
func (l *Loader) LoadBuiltin() ([]LoadedPolicy, error) {
	var all []LoadedPolicy

	err := fs.WalkDir(builtinFS, "builtin", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}

		log.Trace("Loading builtin file: %s", path)
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		lp, err := l.ParsePolicy(data, path, SourceBuiltin)
		if err != nil {
			return err
		}
		all = append(all, lp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// LoadUser loads policy files from the user policy directory in file name
// order. A missing directory has no files. Files that fail to parse are
// skipped with a warning.
func (l *Loader) LoadUser() ([]LoadedPolicy, error) {
	if l.userDir == "" {
		log.Trace("User policy directory not configured, skipping")
		return nil, nil
	}

	names, err := l.ListUserFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to read policy directory: %w", err)
	}

	var all []LoadedPolicy
	for _, name := range names {
		path := filepath.Join(l.userDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Failed to read policy file %s: %v", path, err)
			continue
		}
		lp, err := l.ParsePolicy(data, path, SourceUser)
		if err != nil {
			log.Warn("Failed to parse policy file %s: %v", path, err)
			continue
		}
		log.Trace("Loaded %d rules from %s", len(lp.Rules), name)
		all = append(all, lp)
	}
	return all, nil
}

// ListUserFiles returns the YAML file names in the user policy directory,
// sorted.
func (l *Loader) ListUserFiles() ([]string, error) {
	if l.userDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.userDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && isPolicyFile(entry.Name()) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// GetUserDir returns the user policy directory
func (l *Loader) GetUserDir() string {
	return l.userDir
}

// ParsePolicy decodes and compiles one policy file. Unknown keys are an
// error: a misspelled tier must not silently drop its patterns.
func (l *Loader) ParsePolicy(data []byte, path string, source Source) (LoadedPolicy, error) {
	var f PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return LoadedPolicy{}, fmt.Errorf("%s: empty policy file", path)
		}
		return LoadedPolicy{}, fmt.Errorf("%s: invalid YAML: %w", path, err)
	}
	return compilePolicyFile(f, source, path)
}

func isPolicyFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
