// Package leafcert mints short-lived leaf certificates for a given
// hostname, signed by the proxy's root CA, for presentation during TLS
// interception.
package leafcert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"mitmproxy/internal/ca"
)

const validity = 365 * 24 * time.Hour

// Mint generates a new RSA-2048 leaf certificate for host, signed by root,
// and returns it in the form expected by tls.Config.GetCertificate.
//
// If host is an IP literal (as happens when a client issues CONNECT
// directly to an IP address rather than a name), the certificate carries
// an IP SAN instead of a DNS SAN — browsers reject IP-literal connections
// validated against a DNS SAN.
func Mint(root *ca.CA, host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 159))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageContentCommitment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		AuthorityKeyId: root.Cert.SubjectKeyId,
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	skid, err := subjectKeyIdentifier(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("compute subject key id: %w", err)
	}
	template.SubjectKeyId = skid

	der, err := x509.CreateCertificate(rand.Reader, template, root.Cert, &key.PublicKey, root.Key)
	if err != nil {
		return nil, fmt.Errorf("sign leaf cert: %w", err)
	}

	leaf := &tls.Certificate{
		Certificate: [][]byte{der, root.Cert.Raw},
		PrivateKey:  key,
	}
	leaf.Leaf, err = x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse minted cert: %w", err)
	}
	return leaf, nil
}
