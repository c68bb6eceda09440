package ca

import (
	"crypto/x509"
	"path/filepath"
	"testing"

	"mitmproxy/internal/logger"
)

func testLogger() *logger.Logger { return logger.New("CA", "error") }

func TestGenerateAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := Generate(certFile, keyFile); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	loaded, err := Load(certFile, keyFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Cert.IsCA {
		t.Fatal("loaded cert is not marked CA")
	}
	if loaded.Cert.Subject.String() != loaded.Cert.Issuer.String() {
		t.Fatalf("self-signed CA must have subject == issuer: %s vs %s", loaded.Cert.Subject, loaded.Cert.Issuer)
	}
}

func TestGeneratedCAHasCriticalKeyUsage(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := Generate(certFile, keyFile); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	loaded, err := Load(certFile, keyFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Cert.KeyUsage&x509.KeyUsageCertSign == 0 {
		t.Error("missing KeyUsageCertSign")
	}
	if loaded.Cert.KeyUsage&x509.KeyUsageCRLSign == 0 {
		t.Error("missing KeyUsageCRLSign")
	}
	if len(loaded.Cert.SubjectKeyId) == 0 {
		t.Error("missing SubjectKeyId")
	}
	if !loaded.Cert.BasicConstraintsValid {
		t.Error("BasicConstraintsValid not set")
	}
	for _, ext := range loaded.Cert.Extensions {
		switch ext.Id.String() {
		case "2.5.29.15", "2.5.29.19": // KeyUsage, BasicConstraints
			if !ext.Critical {
				t.Errorf("extension %s is not marked critical", ext.Id)
			}
		}
	}
}

func TestLoadOrGenerateGeneratesOnMissingFiles(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "key.pem")

	c, err := LoadOrGenerate(certFile, keyFile, testLogger())
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if c.Cert == nil || c.Key == nil {
		t.Fatal("expected populated CA")
	}

	// Second call should load the same files rather than regenerating.
	c2, err := LoadOrGenerate(certFile, keyFile, testLogger())
	if err != nil {
		t.Fatalf("LoadOrGenerate (reload): %v", err)
	}
	if c.Cert.SerialNumber.Cmp(c2.Cert.SerialNumber) != 0 {
		t.Fatal("expected identical CA to be reloaded, got different serial")
	}
}

func TestLoadOrGenerateFailsOnCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := writePEM(certFile, "CERTIFICATE", []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("writePEM: %v", err)
	}
	if err := writePEM(keyFile, "RSA PRIVATE KEY", []byte("not a key"), 0o600); err != nil {
		t.Fatalf("writePEM: %v", err)
	}

	if _, err := LoadOrGenerate(certFile, keyFile, testLogger()); err == nil {
		t.Fatal("expected error loading corrupt CA files, got nil")
	}
}

func TestExportPEMIsParseable(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := Generate(certFile, keyFile); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	c, err := Load(certFile, keyFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	pemBytes := c.ExportPEM()
	if len(pemBytes) == 0 {
		t.Fatal("ExportPEM returned empty output")
	}
}
