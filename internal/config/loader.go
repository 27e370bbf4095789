package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the directory under the home directory holding cadence state.
	ConfigDir = ".cadence"
	// ConfigFile is the config file name inside ConfigDir.
	ConfigFile = "config.json"
)

// ConfigPath returns CADENCE_CONFIG if set, else ~/.cadence/config.json
// under CADENCE_HOME or the user's home directory.
func ConfigPath() (string, error) {
	home, err := resolveHomeDir()
	if explicit := strings.TrimSpace(os.Getenv("CADENCE_CONFIG")); explicit != "" {
		if !strings.HasPrefix(explicit, "~") {
			return explicit, nil
		}
		if err != nil {
			return "", err
		}
		return expandTilde(explicit, home), nil
	}
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// resolveHomeDir honours CADENCE_HOME, which systemd units set for the
// service user.
func resolveHomeDir() (string, error) {
	h := strings.TrimSpace(os.Getenv("CADENCE_HOME"))
	if h != "" && !strings.HasPrefix(h, "~") {
		return h, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if h == "" {
		return base, nil
	}
	return expandTilde(h, base), nil
}

func expandTilde(p, home string) string {
	if rest, ok := strings.CutPrefix(p, "~"); ok {
		return filepath.Join(home, rest)
	}
	return p
}

// Load builds the configuration. Later layers win:
//
//	DefaultConfig, the config file, env files, CADENCE_<GROUP>_* variables
//
// A missing config file is not an error.
func Load() (*Config, error) {
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		cfg := DefaultConfig()
		applyEnv(cfg)
		finalize(cfg)
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	obj, err := newIncludeResolver().load(path)
	switch {
	case err == nil:
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !exists(path):
		// No config file yet.
	default:
		return nil, err
	}

	applyEnv(cfg)
	finalize(cfg)
	return cfg, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// envGroups maps each envconfig prefix to the group it fills.
func envGroups(cfg *Config) map[string]any {
	return map[string]any{
		"CADENCE_AGENT":     &cfg.Agent,
		"CADENCE_PROVIDER":  &cfg.Provider,
		"CADENCE_TRANSPORT": &cfg.Transport,
		"CADENCE_SCHEDULER": &cfg.Scheduler,
		"CADENCE_TIMELINE":  &cfg.Timeline,
		"CADENCE_LOG":       &cfg.Log,
		"CADENCE_SLACK":     &cfg.Slack,
	}
}

func applyEnv(cfg *Config) {
	for prefix, group := range envGroups(cfg) {
		envconfig.Process(prefix, group)
	}

	if cfg.Slack.BotToken == "" {
		cfg.Slack.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = firstEnv(providerKeyVars(cfg.Provider.Kind)...)
	}
}

// providerKeyVars lists the vendor variables an API key may come from.
func providerKeyVars(kind string) []string {
	switch strings.ToLower(kind) {
	case ProviderXAI:
		return []string{"XAI_API_KEY"}
	case ProviderLlamaCpp:
		return nil
	default:
		return []string{"OPENAI_API_KEY", "OPENROUTER_API_KEY"}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// finalize expands paths and fills values that must never be zero.
func finalize(cfg *Config) {
	if home, err := resolveHomeDir(); err == nil {
		cfg.Scheduler.LockPath = expandTilde(cfg.Scheduler.LockPath, home)
		cfg.Timeline.DBPath = expandTilde(cfg.Timeline.DBPath, home)
	}

	if cfg.Agent.DisplayName == "" {
		cfg.Agent.DisplayName = cfg.Agent.Name
	}
	if cfg.Agent.SyntheticDepth <= 0 {
		cfg.Agent.SyntheticDepth = 1
	}
	if cfg.Provider.Workers <= 0 {
		cfg.Provider.Workers = 1
	}
	if cfg.Scheduler.PendingBackoffMs <= 0 {
		cfg.Scheduler.PendingBackoffMs = 1000
	}
	cfg.Provider.Kind = strings.ToLower(strings.TrimSpace(cfg.Provider.Kind))
	cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(cfg.Transport.Kind))
}

// Save writes cfg as indented JSON to ConfigPath.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// EnsureDir creates path and its parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// includeResolver loads a config file and the files its "$include" key
// names. Included files are merged first so the including file wins.
type includeResolver struct {
	stack map[string]bool
}

func newIncludeResolver() *includeResolver {
	return &includeResolver{stack: make(map[string]bool)}
}

func (r *includeResolver) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if r.stack[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	r.stack[abs] = true
	defer delete(r.stack, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	own := map[string]any{}
	if err := json.Unmarshal(data, &own); err != nil {
		return nil, fmt.Errorf("parse %s: %w", abs, err)
	}

	includes, err := includeList(own["$include"])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	delete(own, "$include")

	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		child, err := r.load(inc)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, child)
	}
	mergeInto(merged, substituteEnvValues(own).(map[string]any))
	return merged, nil
}

// includeList accepts "$include" as one path or a list of paths.
func includeList(v any) ([]string, error) {
	var raw []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []any{t}
	case []any:
		raw = t
	default:
		return nil, errors.New("$include must be a string or array of strings")
	}
	var out []string
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, errors.New("$include entries must be strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// mergeInto copies src over dst. Objects merge key by key; any other value,
// arrays included, replaces what dst held.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcObj, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		dstObj, ok := dst[k].(map[string]any)
		if !ok {
			dstObj = map[string]any{}
			dst[k] = dstObj
		}
		mergeInto(dstObj, srcObj)
	}
}

// envPattern matches upper-case ${NAME} references only, so lower-case prompt
// template variables such as ${history} pass through to the generator.
var envPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// substituteEnvValues replaces ${NAME} in every string of v with the
// environment value. Unset names are left as written.
func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(ref string) string {
			if val, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
				return val
			}
			return ref
		})
	}
	return v
}
