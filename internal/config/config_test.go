package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.API.URL != DefaultAPIURL || c.API.Timeout != 10*time.Second {
		t.Fatalf("unexpected api defaults: %+v", c.API)
	}
	if c.Poll.Interval != time.Second {
		t.Fatalf("unexpected poll interval %v", c.Poll.Interval)
	}
	if c.Fallback.Delay != 1500*time.Millisecond {
		t.Fatalf("unexpected fallback delay %v", c.Fallback.Delay)
	}
	if c.Dashboard.Listen != "127.0.0.1:8090" {
		t.Fatalf("unexpected listen %q", c.Dashboard.Listen)
	}
	if c.History.ArchiveDSN != "" || c.Log.File != "" {
		t.Fatalf("archive and log file should be off by default: %+v", c)
	}
	if d := Default(); d.API.URL != DefaultAPIURL {
		t.Fatalf("Default() mismatch: %+v", d.API)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "pullpilot.toml", `
[api]
url = "http://gateway:8000/api"
timeout = "3s"

[poll]
interval = "250ms"

[fallback]
delay = "0s"

[history]
archive_dsn = "sqlite:///tmp/history.db"

[log]
level = "debug"
file = "/tmp/pullpilot.log"
max_backups = 5
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.API.URL != "http://gateway:8000/api" || c.API.Timeout != 3*time.Second {
		t.Fatalf("api not read: %+v", c.API)
	}
	if c.Poll.Interval != 250*time.Millisecond || c.Fallback.Delay != 0 {
		t.Fatalf("durations not read: poll=%v delay=%v", c.Poll.Interval, c.Fallback.Delay)
	}
	if c.History.ArchiveDSN != "sqlite:///tmp/history.db" {
		t.Fatalf("archive dsn not read: %q", c.History.ArchiveDSN)
	}
	if c.Log.Level != "debug" || c.Log.File != "/tmp/pullpilot.log" || c.Log.MaxBackups != 5 {
		t.Fatalf("log not read: %+v", c.Log)
	}
	// untouched sections keep defaults
	if c.Dashboard.Listen != DefaultDashboardListen {
		t.Fatalf("expected default listen, got %q", c.Dashboard.Listen)
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "pullpilot.yaml", "api:\n  url: https://fleet.example/api\ndashboard:\n  listen: \":9000\"\n")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.API.URL != "https://fleet.example/api" || c.Dashboard.Listen != ":9000" {
		t.Fatalf("yaml not read: %+v", c)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PULLPILOT_API_URL", "http://env-host:8000/api")
	t.Setenv("PULLPILOT_POLL_INTERVAL", "2s")
	p := writeFile(t, "pullpilot.toml", "[api]\nurl = \"http://file-host/api\"\n")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.API.URL != "http://env-host:8000/api" {
		t.Fatalf("env should win over file, got %q", c.API.URL)
	}
	if c.Poll.Interval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %v", c.Poll.Interval)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	bad := writeFile(t, "bad.toml", "[api\nurl=")
	if _, err := Load(bad); err == nil {
		t.Fatal("expected parse error")
	}
	cases := map[string]string{
		"scheme":   "[api]\nurl = \"gateway:8000\"\n",
		"timeout":  "[api]\ntimeout = \"0s\"\n",
		"interval": "[poll]\ninterval = \"-1s\"\n",
		"delay":    "[fallback]\ndelay = \"-1s\"\n",
		"format":   "[log]\nformat = \"xml\"\n",
		"tls":      "[dashboard.tls]\nenabled = true\ncert_file = \"a.crt\"\n",
	}
	for name, data := range cases {
		p := writeFile(t, name+".toml", data)
		if _, err := Load(p); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadDashboardTLS(t *testing.T) {
	p := writeFile(t, "tls.toml", `
[dashboard]
listen = "0.0.0.0:8443"

[dashboard.tls]
enabled = true
dir = "/var/lib/pullpilot/certs"
auto_generate = true
hosts = ["pullpilot.lan", "192.168.1.10"]
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tl := c.Dashboard.TLS
	if !tl.Enabled || !tl.AutoGenerate || tl.Dir != "/var/lib/pullpilot/certs" {
		t.Fatalf("unexpected tls config %+v", tl)
	}
	if len(tl.Hosts) != 2 || tl.Hosts[1] != "192.168.1.10" {
		t.Fatalf("unexpected hosts %v", tl.Hosts)
	}
	if tl.MinVersion != "1.2" {
		t.Fatalf("expected default min version, got %q", tl.MinVersion)
	}
}

func TestExpandsEnvReferences(t *testing.T) {
	t.Setenv("PULLPILOT_TEST_DB_PASS", "pa$$")
	p := writeFile(t, "dsn.toml", `
[history]
archive_dsn = "postgres://pilot:${PULLPILOT_TEST_DB_PASS}@db:5432/fleet"

[log]
file = "${PULLPILOT_TEST_UNSET_DIR}/pullpilot.log"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.History.ArchiveDSN != "postgres://pilot:pa$$@db:5432/fleet" {
		t.Fatalf("dsn not expanded: %q", c.History.ArchiveDSN)
	}
	if c.Log.File != "${PULLPILOT_TEST_UNSET_DIR}/pullpilot.log" {
		t.Fatalf("undefined reference should stay: %q", c.Log.File)
	}
	if c.Dashboard.Refresh != DefaultDashboardRefresh {
		t.Fatalf("unexpected refresh default %q", c.Dashboard.Refresh)
	}
}
