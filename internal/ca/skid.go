package ca

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
)

// subjectKeyIdentifier computes a Subject Key Identifier per RFC 5280
// §4.2.1.2 method (1): the SHA-1 hash of the DER-encoded public key bit
// string, excluding tag/length/unused-bits.
func subjectKeyIdentifier(pub *rsa.PublicKey) ([]byte, error) {
	// For RSA the subjectPublicKey bit string holds the PKCS #1
	// RSAPublicKey encoding.
	sum := sha1.Sum(x509.MarshalPKCS1PublicKey(pub))
	return sum[:], nil
}
