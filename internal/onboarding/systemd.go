// Package onboarding installs cadence as a systemd service.
package onboarding

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

const unitName = "cadence.service"

var lookupUserFn = user.Lookup

// SetupOptions describes the service to install.
type SetupOptions struct {
	ServiceUser string
	// ServiceHome defaults to the home directory of ServiceUser.
	ServiceHome string
	BinaryPath  string
	Version     string
	// InstallRoot prefixes /etc/systemd/system. Defaults to "/".
	InstallRoot string
}

// SetupResult lists the files written.
type SetupResult struct {
	ServicePath string
	EnvPath     string
	EnvCreated  bool
}

// SetupSystemd writes a unit running "cadence run" as ServiceUser, plus an
// environment file for secrets. An existing environment file is kept.
func SetupSystemd(opts SetupOptions) (*SetupResult, error) {
	if opts.ServiceUser == "" {
		return nil, errors.New("service user is required")
	}
	if opts.BinaryPath == "" {
		return nil, errors.New("binary path is required")
	}
	if opts.InstallRoot == "" {
		opts.InstallRoot = "/"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	home := opts.ServiceHome
	if home == "" {
		u, err := lookupUserFn(opts.ServiceUser)
		if err != nil {
			return nil, fmt.Errorf("lookup service user %q: %w", opts.ServiceUser, err)
		}
		home = u.HomeDir
	}

	servicePath := filepath.Join(opts.InstallRoot, "etc", "systemd", "system", unitName)
	envPath := filepath.Join(home, ".cadence", "env")

	if err := os.MkdirAll(filepath.Dir(servicePath), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(envPath), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(servicePath, []byte(renderUnit(opts, home, envPath)), 0o644); err != nil {
		return nil, err
	}

	res := &SetupResult{ServicePath: servicePath, EnvPath: envPath}
	if _, err := os.Stat(envPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(envPath, []byte(renderEnvFile()), 0o600); err != nil {
			return nil, err
		}
		res.EnvCreated = true
	}
	return res, nil
}

func renderUnit(opts SetupOptions, home, envPath string) string {
	return strings.Join([]string{
		"[Unit]",
		fmt.Sprintf("Description=Cadence reply scheduler (v%s)", opts.Version),
		"After=network-online.target",
		"Wants=network-online.target",
		"",
		"[Service]",
		"User=" + opts.ServiceUser,
		"Group=" + opts.ServiceUser,
		"ExecStart=" + shellEscape(filepath.Clean(opts.BinaryPath)) + " run",
		"Restart=always",
		"RestartSec=5",
		"Environment=HOME=" + home,
		"Environment=CADENCE_HOME=" + home,
		"EnvironmentFile=-" + envPath,
		"WorkingDirectory=" + home,
		"",
		"[Install]",
		"WantedBy=multi-user.target",
		"",
	}, "\n")
}

func renderEnvFile() string {
	return strings.Join([]string{
		"# cadence runtime environment",
		"CADENCE_PROVIDER_API_KEY=",
		"SLACK_BOT_TOKEN=",
		"",
	}, "\n")
}

func shellEscape(v string) string {
	if v == "" {
		return "''"
	}
	if strings.IndexFunc(v, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '"' || r == '\'' || r == '\\'
	}) == -1 {
		return v
	}
	return strconv.Quote(v)
}
