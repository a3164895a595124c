package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/pullpilot/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(config.TLSConfig{})
	if err != nil || c != nil {
		t.Fatalf("expected nil config when disabled, got %v %v", c, err)
	}
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	c, err := Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, Hosts: []string{"dash.local", "10.0.0.5"}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if c.MinVersion != tls.VersionTLS12 {
		t.Fatalf("unexpected min version %x", c.MinVersion)
	}
	info, err := os.Stat(filepath.Join(dir, tlsKey))
	if err != nil {
		t.Fatalf("key not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key mode %v", info.Mode().Perm())
	}

	cert, err := c.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("get certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if leaf.Subject.CommonName != "dash.local" || len(leaf.DNSNames) != 1 || len(leaf.IPAddresses) != 1 {
		t.Fatalf("unexpected subject %+v dns=%v ips=%v", leaf.Subject, leaf.DNSNames, leaf.IPAddresses)
	}

	// a second setup reuses the generated pair
	before, _ := os.ReadFile(filepath.Join(dir, tlsCrt))
	if _, err := Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true}); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, tlsCrt))
	if string(before) != string(after) {
		t.Fatalf("certificate regenerated")
	}
}

func TestSetupErrors(t *testing.T) {
	if _, err := Setup(config.TLSConfig{Enabled: true}); err == nil {
		t.Fatal("expected error without certificate source")
	}
	if _, err := Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing files without auto-generate")
	}
	if _, err := Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.1"}); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
