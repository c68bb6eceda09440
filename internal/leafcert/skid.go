package leafcert

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
)

// subjectKeyIdentifier computes a Subject Key Identifier per RFC 5280
// §4.2.1.2 method (1), mirroring internal/ca's root-certificate identifier
// so leaf and root SKIs are derived the same way.
func subjectKeyIdentifier(pub *rsa.PublicKey) ([]byte, error) {
	sum := sha1.Sum(x509.MarshalPKCS1PublicKey(pub))
	return sum[:], nil
}
