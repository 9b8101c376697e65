package sandbox

import (
	"os"
	"runtime"
	"strings"
)

// ScrubbedEnv returns the allow-listed subset of the current environment
// plus any extra keys the operator passes through. Secrets such as API keys
// and SHELLGATE_PIN never reach the spawned command.
func ScrubbedEnv(extra ...string) []string {
	var env []string
	seen := make(map[string]bool)
	for _, key := range append(safeEnvKeys(), extra...) {
		if seen[key] {
			continue
		}
		seen[key] = true
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return env
}

// safeEnvKeys returns the platform-appropriate set of safe environment variable names.
func safeEnvKeys() []string {
	if runtime.GOOS == "windows" {
		return []string{
			"PATH", "USERPROFILE", "USERNAME", "HOMEDRIVE", "HOMEPATH",
			"LANG", "TERM", "TEMP", "TMP", "TZ",
			"SYSTEMROOT", "COMSPEC", "PATHEXT",
		}
	}
	return []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TERM", "SHELL", "TMPDIR", "TZ"}
}

// secretEnvPrefix marks shellgate's own secrets.
const secretEnvPrefix = "SHELLGATE_"

// WithoutSecrets returns env minus shellgate's own variables, for when the
// environment is inherited rather than scrubbed.
func WithoutSecrets(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(strings.ToUpper(kv), secretEnvPrefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}
