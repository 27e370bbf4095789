package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// envFileCandidates lists the env files Load reads, highest precedence
// first: CADENCE_ENV_FILE, then ~/.config/cadence/env, ~/.cadence/env and
// ~/.cadence/.env.
func envFileCandidates() []string {
	var out []string
	if explicit := strings.TrimSpace(os.Getenv("CADENCE_ENV_FILE")); explicit != "" {
		out = append(out, explicit)
	}
	if home, err := resolveHomeDir(); err == nil {
		out = append(out,
			filepath.Join(home, ".config", "cadence", "env"),
			filepath.Join(home, ConfigDir, "env"),
			filepath.Join(home, ConfigDir, ".env"),
		)
	}
	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, p := range out {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			uniq = append(uniq, p)
		}
	}
	return uniq
}

// LoadEnvFileCandidates exports the variables of every env file that exists.
// Process env vars are never overridden, so earlier files win.
func LoadEnvFileCandidates() {
	for _, p := range envFileCandidates() {
		n, err := loadEnvFile(p)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			slog.Warn("Env file skipped", "path", p, "error", err)
		default:
			slog.Debug("Env file loaded", "path", p, "vars", n)
		}
	}
}

// loadEnvFile exports KEY=value lines from path and returns how many it set.
// Keys with an empty value are left unset so a blank template entry such as
// "CADENCE_PROVIDER_API_KEY=" never masks the config file.
func loadEnvFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	set := 0
	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			slog.Debug("Env file line ignored", "path", path, "line", lineNo)
			continue
		}
		val = trimOptionalQuotes(strings.TrimSpace(val))
		if val == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return set, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		set++
	}
	return set, sc.Err()
}

// trimOptionalQuotes strips one pair of matching surrounding quotes.
func trimOptionalQuotes(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
