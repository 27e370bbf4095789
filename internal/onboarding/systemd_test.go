package onboarding

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupSystemdWritesUnitAndEnv(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home", "cadence")

	res, err := SetupSystemd(SetupOptions{
		ServiceUser: "cadence",
		ServiceHome: home,
		BinaryPath:  "/opt/cadence bin/cadence",
		Version:     "1.2.3",
		InstallRoot: root,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.EnvCreated {
		t.Fatal("env file should be created on first setup")
	}
	unit, err := os.ReadFile(res.ServicePath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Description=Cadence reply scheduler (v1.2.3)",
		"User=cadence",
		`ExecStart="/opt/cadence bin/cadence" run`,
		"EnvironmentFile=-" + filepath.Join(home, ".cadence", "env"),
		"Environment=CADENCE_HOME=" + home,
	} {
		if !strings.Contains(string(unit), want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
	if res.ServicePath != filepath.Join(root, "etc", "systemd", "system", "cadence.service") {
		t.Fatalf("service path = %s", res.ServicePath)
	}
}

func TestSetupSystemdKeepsExistingEnv(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	envPath := filepath.Join(home, ".cadence", "env")
	if err := os.MkdirAll(filepath.Dir(envPath), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(envPath, []byte("SLACK_BOT_TOKEN=xoxb-kept\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := SetupSystemd(SetupOptions{ServiceUser: "cadence", ServiceHome: home, BinaryPath: "/usr/bin/cadence", InstallRoot: root})
	if err != nil {
		t.Fatal(err)
	}
	if res.EnvCreated {
		t.Fatal("existing env file must not be replaced")
	}
	data, _ := os.ReadFile(envPath)
	if string(data) != "SLACK_BOT_TOKEN=xoxb-kept\n" {
		t.Fatalf("env file changed: %q", data)
	}
}

func TestSetupSystemdValidation(t *testing.T) {
	if _, err := SetupSystemd(SetupOptions{BinaryPath: "/usr/bin/cadence"}); err == nil {
		t.Fatal("expected error for missing user")
	}
	if _, err := SetupSystemd(SetupOptions{ServiceUser: "cadence"}); err == nil {
		t.Fatal("expected error for missing binary")
	}

	prev := lookupUserFn
	t.Cleanup(func() { lookupUserFn = prev })
	lookupUserFn = func(string) (*user.User, error) { return nil, errors.New("no such user") }
	if _, err := SetupSystemd(SetupOptions{ServiceUser: "ghost", BinaryPath: "/usr/bin/cadence", InstallRoot: t.TempDir()}); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestShellEscape(t *testing.T) {
	if shellEscape("/usr/bin/cadence") != "/usr/bin/cadence" {
		t.Fatal("plain path should be unchanged")
	}
	if shellEscape("") != "''" {
		t.Fatal("empty value should be quoted")
	}
	if shellEscape("a b") != `"a b"` {
		t.Fatalf("got %s", shellEscape("a b"))
	}
}
