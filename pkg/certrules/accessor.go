package certrules

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"
)

// Accessor reads the certificate metadata rules look at.
type Accessor interface {
	Thumbprint(cert *x509.Certificate) string
	Subject(cert *x509.Certificate) string
	NotBefore(cert *x509.Certificate) time.Time
	NotAfter(cert *x509.Certificate) time.Time
	Now() time.Time
}

// X509Accessor reads certificates parsed by crypto/x509. Thumbprints are the
// upper case hex SHA-1 of the DER bytes.
type X509Accessor struct {
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (a X509Accessor) Thumbprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (a X509Accessor) Subject(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return cert.Subject.String()
}

func (a X509Accessor) NotBefore(cert *x509.Certificate) time.Time {
	return cert.NotBefore
}

func (a X509Accessor) NotAfter(cert *x509.Certificate) time.Time {
	return cert.NotAfter
}

func (a X509Accessor) Now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now()
}

// stringSet matches case-insensitively. "*" matches everything when wildcard
// is set.
type stringSet struct {
	values   map[string]struct{}
	wildcard bool
}

func newStringSet(values []string, wildcard bool) stringSet {
	s := stringSet{values: make(map[string]struct{}, len(values))}
	for _, v := range values {
		if wildcard && v == "*" {
			s.wildcard = true
			continue
		}
		s.values[strings.ToLower(v)] = struct{}{}
	}
	return s
}

func (s stringSet) contains(v string) bool {
	if s.wildcard {
		return true
	}
	_, ok := s.values[strings.ToLower(v)]
	return ok
}

func (s stringSet) len() int {
	return len(s.values)
}
