package certrules

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/sirupsen/logrus"
)

var ErrRejected = errors.New("certificate rejected")

// Scoped is a rule that only checks peers in Role.
type Scoped struct {
	Role Role
	Rule Rule
}

// Instrumentation is told about every validation.
type Instrumentation interface {
	CertificateValidated(role Role, accepted bool)
}

type ValidatorOptions struct {
	Accessor Accessor
	// Base is evaluated before the scoped rules.
	Base Rule
	// Roots verify peer chains when the TLS stack did not.
	Roots           *x509.CertPool
	Instrumentation Instrumentation
	Logger          *logrus.Entry
}

// Validator composes the behavior of its rules for a peer.
type Validator struct {
	acc   Accessor
	base  Rule
	rules []Scoped
	roots *x509.CertPool
	inst  Instrumentation
	log   *logrus.Entry
}

func NewValidator(opts ValidatorOptions, rules ...Scoped) *Validator {
	if opts.Accessor == nil {
		opts.Accessor = X509Accessor{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("certrules")
	}
	return &Validator{
		acc:   opts.Accessor,
		base:  opts.Base,
		rules: rules,
		roots: opts.Roots,
		inst:  opts.Instrumentation,
		log:   opts.Logger,
	}
}

// Validate reports whether the peer is accepted in role, and why.
func (v *Validator) Validate(peer Peer, role Role) (bool, string) {
	b := Neutral
	reason := "no base rule"
	if v.base != nil {
		b = v.base.Evaluate(peer)
		reason = fmt.Sprintf("base rule set it to %s", b)
	}

	for i, scoped := range v.rules {
		if !scoped.Role.Includes(role) {
			continue
		}
		next, err := Compose(b, scoped.Rule.Evaluate(peer))
		if err != nil {
			return v.done(peer, role, false, fmt.Sprintf("rule %d: %s", i, err))
		}
		if next != b {
			reason = fmt.Sprintf("rule %d set it to %s", i, next)
		}
		b = next
		if b == BlackListed {
			return v.done(peer, role, false, fmt.Sprintf("rule %d blacklisted it", i))
		}
	}
	return v.done(peer, role, b.Accepted(), reason)
}

func (v *Validator) done(peer Peer, role Role, accepted bool, reason string) (bool, string) {
	if v.inst != nil {
		v.inst.CertificateValidated(role, accepted)
	}
	logger := v.log.WithFields(logrus.Fields{
		"thumbprint": v.acc.Thumbprint(peer.Cert),
		"role":       role,
		"reason":     reason,
	})
	if accepted {
		logger.Debug("certificate accepted")
	} else {
		logger.Warn("certificate rejected")
	}
	return accepted, reason
}

// VerifyPeerCertificate returns a tls.Config callback validating the peer
// in role. Chains the TLS stack did not verify are verified against Roots.
func (v *Validator) VerifyPeerCertificate(role Role) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		peer, err := v.peer(role, rawCerts, verifiedChains)
		if err != nil {
			return err
		}
		if ok, reason := v.Validate(peer, role); !ok {
			return fmt.Errorf("%w: %s", ErrRejected, reason)
		}
		return nil
	}
}

func (v *Validator) peer(role Role, rawCerts [][]byte, verifiedChains [][]*x509.Certificate) (Peer, error) {
	if len(verifiedChains) > 0 && len(verifiedChains[0]) > 0 {
		return Peer{Cert: verifiedChains[0][0], Chain: verifiedChains[0]}, nil
	}
	if len(rawCerts) == 0 {
		return Peer{}, nil
	}

	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return Peer{}, fmt.Errorf("parsing peer certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	usage := x509.ExtKeyUsageClientAuth
	if role == RoleServer {
		usage = x509.ExtKeyUsageServerAuth
	}
	chains, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.acc.Now(),
		KeyUsages:     []x509.ExtKeyUsage{usage},
	})
	if err != nil {
		return Peer{Cert: certs[0], Chain: certs, ChainErr: err}, nil
	}
	return Peer{Cert: certs[0], Chain: chains[0]}, nil
}

// ServerTLSConfig asks clients for a certificate and validates it with the
// client rules.
func (v *Validator) ServerTLSConfig(certificates ...tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:          certificates,
		ClientAuth:            tls.RequestClientCert,
		VerifyPeerCertificate: v.VerifyPeerCertificate(RoleClient),
		MinVersion:            tls.VersionTLS12,
	}
}

// ClientTLSConfig validates the server with the server rules instead of the
// default verification.
func (v *Validator) ClientTLSConfig(certificates ...tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: certificates,
		// The chain is verified by VerifyPeerCertificate.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: v.VerifyPeerCertificate(RoleServer),
		MinVersion:            tls.VersionTLS12,
	}
}
