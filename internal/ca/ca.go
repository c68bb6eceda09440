// Package ca manages the proxy's root certificate authority: the
// self-signed certificate and private key used to sign every leaf
// certificate minted for MITM interception.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"mitmproxy/internal/logger"
)

// CA holds the root certificate and private key used to sign leaf
// certificates. A CA is immutable after construction; callers needing to
// mint leaves use it as read-only signing material.
type CA struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// LoadOrGenerate loads a CA from the given PEM files, generating and
// persisting a new one if the files don't exist. An existing-but-invalid
// file is a fatal configuration error, not silently replaced.
func LoadOrGenerate(certFile, keyFile string, log *logger.Logger) (*CA, error) {
	ca, err := Load(certFile, keyFile)
	if err == nil {
		log.Infof("ca_load", "loaded root CA from %s", certFile)
		return ca, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load CA: %w", err)
	}

	log.Warnf("ca_generate", "no CA found at %s, generating new root", certFile)
	if genErr := Generate(certFile, keyFile); genErr != nil {
		return nil, fmt.Errorf("generate CA: %w", genErr)
	}
	ca, err = Load(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load generated CA: %w", err)
	}
	log.Infof("ca_generate", "generated new root CA at %s / %s — import it into clients to trust intercepted TLS", certFile, keyFile)
	return ca, nil
}

// Load reads a CA certificate and private key from PEM files. Returns a
// wrapped os.ErrNotExist if either file is missing.
func Load(certFile, keyFile string) (*CA, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("no PEM block found in %s", certFile)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("no PEM block found in %s", keyFile)
	}
	key, err := parseRSAKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA key: %w", err)
	}

	return &CA{Cert: cert, Key: key}, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("CA key is not RSA")
	}
	return key, nil
}

// Generate creates a new self-signed root CA and writes it to certFile
// (0600, though the certificate itself is public) and keyFile (0600).
func Generate(certFile, keyFile string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}

	subjectKeyID, err := subjectKeyIdentifier(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("compute subject key id: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "mitmproxy Local CA",
			Organization: []string{"mitmproxy"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
		SubjectKeyId:          subjectKeyID,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA cert: %w", err)
	}

	if err := os.MkdirAll(dirOf(certFile), 0o755); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}
	if err := writePEM(certFile, "CERTIFICATE", der, 0o600); err != nil {
		return fmt.Errorf("write cert PEM: %w", err)
	}
	if err := writePEM(keyFile, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return fmt.Errorf("write key PEM: %w", err)
	}
	return nil
}

// ExportPEM returns the root certificate encoded as PEM, for the
// management API's CA-download endpoint.
func (c *CA) ExportPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Cert.Raw})
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 159))
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
