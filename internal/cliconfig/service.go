// Package cliconfig reads and edits single config values addressed by a
// dotted path such as "sinks[0].intervalSeconds".
package cliconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KafClaw/cadence/internal/config"
)

// ErrPathNotFound is returned when nothing lives at a path.
var ErrPathNotFound = errors.New("path not found")

// step is one path element: an object key or an array index.
type step struct {
	key   string
	index int // -1 for object keys
}

// Get returns the effective value at path, after defaults, the config file
// and environment overrides are applied.
func Get(path string) (any, error) {
	steps, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	v, ok := lookup(root, steps)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrPathNotFound)
	}
	return v, nil
}

// Set writes value at path in the config file. value is parsed as JSON and
// falls back to a plain string. Edits that leave the file invalid are refused.
func Set(path, value string) error {
	steps, err := parsePath(path)
	if err != nil {
		return err
	}
	root, cfgPath, err := readFile()
	if err != nil {
		return err
	}
	updated, ok := assign(root, steps, parseValue(value)).(map[string]any)
	if !ok {
		return errors.New("config root must be an object")
	}
	return writeFile(cfgPath, updated)
}

// Unset removes the value at path from the config file, so the default or
// an environment override applies again.
func Unset(path string) error {
	steps, err := parsePath(path)
	if err != nil {
		return err
	}
	root, cfgPath, err := readFile()
	if err != nil {
		return err
	}
	if !remove(root, steps) {
		return fmt.Errorf("%s: %w", path, ErrPathNotFound)
	}
	return writeFile(cfgPath, root)
}

func readFile() (map[string]any, string, error) {
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return map[string]any{}, cfgPath, nil
	}
	if err != nil {
		return nil, "", err
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", cfgPath, err)
	}
	return m, cfgPath, nil
}

func writeFile(cfgPath string, m map[string]any) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	// Files split with $include can only be validated as a whole at load.
	if _, split := m["$include"]; !split {
		cfg := config.DefaultConfig()
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("edit does not fit the config schema: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("edit would make the config invalid: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(cfgPath, data, 0o600)
}

// parsePath splits "a.b[2].c" into steps.
func parsePath(path string) ([]step, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("path is empty")
	}
	var steps []step
	for _, seg := range strings.Split(path, ".") {
		name, rest, _ := strings.Cut(seg, "[")
		if name = strings.TrimSpace(name); name != "" {
			steps = append(steps, step{key: name, index: -1})
		}
		for rest != "" {
			raw, after, ok := strings.Cut(rest, "]")
			if !ok {
				return nil, fmt.Errorf("invalid path %q: missing ]", path)
			}
			idx, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid path %q: bad index %q", path, raw)
			}
			steps = append(steps, step{index: idx})
			if after != "" && !strings.HasPrefix(after, "[") {
				return nil, fmt.Errorf("invalid path %q: unexpected %q", path, after)
			}
			rest = strings.TrimPrefix(after, "[")
		}
	}
	if len(steps) == 0 {
		return nil, errors.New("path is empty")
	}
	return steps, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func lookup(node any, steps []step) (any, bool) {
	for _, s := range steps {
		if s.index >= 0 {
			arr, ok := node.([]any)
			if !ok || s.index >= len(arr) {
				return nil, false
			}
			node = arr[s.index]
			continue
		}
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = obj[s.key]; !ok {
			return nil, false
		}
	}
	return node, true
}

// assign returns node with value placed at steps, creating objects and
// growing arrays on the way.
func assign(node any, steps []step, value any) any {
	if len(steps) == 0 {
		return value
	}
	s := steps[0]
	if s.index >= 0 {
		arr, _ := node.([]any)
		for len(arr) <= s.index {
			arr = append(arr, nil)
		}
		arr[s.index] = assign(arr[s.index], steps[1:], value)
		return arr
	}
	obj, ok := node.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	obj[s.key] = assign(obj[s.key], steps[1:], value)
	return obj
}

// remove deletes the value at steps in place and reports whether it existed.
func remove(root map[string]any, steps []step) bool {
	parent, ok := lookup(root, steps[:len(steps)-1])
	if !ok {
		return false
	}
	last := steps[len(steps)-1]
	if last.index >= 0 {
		arr, ok := parent.([]any)
		if !ok || last.index >= len(arr) {
			return false
		}
		trimmed := append(arr[:last.index:last.index], arr[last.index+1:]...)
		// An array parent means at least two steps.
		grand, _ := lookup(root, steps[:len(steps)-2])
		prev := steps[len(steps)-2]
		if prev.index >= 0 {
			grand.([]any)[prev.index] = trimmed
		} else {
			grand.(map[string]any)[prev.key] = trimmed
		}
		return true
	}
	obj, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := obj[last.key]; !ok {
		return false
	}
	delete(obj, last.key)
	return true
}
