package certrules

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Peer is a certificate presented during a handshake.
type Peer struct {
	// Cert is nil when the peer presented no certificate.
	Cert *x509.Certificate
	// Chain is the chain built for Cert, leaf first.
	Chain []*x509.Certificate
	// ChainErr is the error from verifying Chain, nil when it verified.
	ChainErr error
}

type Rule interface {
	Evaluate(peer Peer) Behavior
}

type RuleFunc func(peer Peer) Behavior

func (f RuleFunc) Evaluate(peer Peer) Behavior {
	return f(peer)
}

// AllowIfAllAllowed allows when every rule allows or breaks glass. The first
// other answer ends the evaluation as NotAllowed, or BlackListed.
func AllowIfAllAllowed(rules ...Rule) Rule {
	return RuleFunc(func(peer Peer) Behavior {
		for _, rule := range rules {
			b := rule.Evaluate(peer)
			if !b.Accepted() {
				if b == BlackListed {
					return b
				}
				return NotAllowed
			}
		}
		return Allowed
	})
}

// AllowIfAnyAllowed returns the first Allowed or BreakGlassUnlessBlackListed
// answer, or NotAllowed.
func AllowIfAnyAllowed(rules ...Rule) Rule {
	return RuleFunc(func(peer Peer) Behavior {
		for _, rule := range rules {
			if b := rule.Evaluate(peer); b.Accepted() {
				return b
			}
		}
		return NotAllowed
	})
}

// AllowIfAllCoherent composes every answer starting from Neutral. A
// blacklisted certificate is NotAllowed, an accepted one Allowed, and Neutral
// stays Neutral.
func AllowIfAllCoherent(rules ...Rule) Rule {
	return RuleFunc(func(peer Peer) Behavior {
		b := Neutral
		for _, rule := range rules {
			var err error
			b, err = Compose(b, rule.Evaluate(peer))
			if err != nil || b == BlackListed {
				return NotAllowed
			}
		}
		switch {
		case b.Accepted():
			return Allowed
		case b == Neutral:
			return Neutral
		}
		return NotAllowed
	})
}

// AllowIfMask allows when the rule's answer is one of the bits of mask.
func AllowIfMask(rule Rule, mask Behavior) Rule {
	return RuleFunc(func(peer Peer) Behavior {
		b := rule.Evaluate(peer)
		if b == mask || b&mask != EmptyMask {
			return Allowed
		}
		if b == BlackListed {
			return b
		}
		return NotAllowed
	})
}

// NeutralAsAllow turns a Neutral answer of rule into Allowed.
func NeutralAsAllow(rule Rule) Rule {
	return AllowIfMask(rule, Allowed|Neutral)
}

// AllowSubjects allows certificates whose subject is listed. "*" allows any
// certificate.
func AllowSubjects(acc Accessor, subjects ...string) Rule {
	allowed := newStringSet(subjects, true)
	return RuleFunc(func(peer Peer) Behavior {
		if peer.Cert == nil {
			return NotAllowed
		}
		if allowed.contains(acc.Subject(peer.Cert)) {
			return Allowed
		}
		return NotAllowed
	})
}

// AllowCertificates allows certificates the predicate includes.
func AllowCertificates(included func(cert *x509.Certificate) bool) Rule {
	return RuleFunc(func(peer Peer) Behavior {
		if peer.Cert == nil || !included(peer.Cert) {
			return NotAllowed
		}
		return Allowed
	})
}

// AllowThumbprints allows certificates whose thumbprint is listed.
func AllowThumbprints(acc Accessor, thumbprints ...string) Rule {
	allowed := newStringSet(thumbprints, false)
	return AllowCertificates(func(cert *x509.Certificate) bool {
		return allowed.contains(acc.Thumbprint(cert))
	})
}

// AllowSigningCert allows certificates signed by one of the listed
// thumbprints. "*" allows any signer and "[*]" allows self-signed
// certificates.
func AllowSigningCert(acc Accessor, thumbprints ...string) Rule {
	allowSelf := false
	filtered := make([]string, 0, len(thumbprints))
	for _, t := range thumbprints {
		if t == "[*]" {
			allowSelf = true
			continue
		}
		filtered = append(filtered, t)
	}
	allowed := newStringSet(filtered, true)
	return RuleFunc(func(peer Peer) Behavior {
		switch {
		case peer.Cert == nil, len(peer.Chain) == 0:
			return NotAllowed
		case len(peer.Chain) == 1:
			if allowSelf {
				return Allowed
			}
			return NotAllowed
		}
		if allowed.contains(acc.Thumbprint(peer.Chain[1])) {
			return Allowed
		}
		return NotAllowed
	})
}

// ChainIsValid rejects certificates whose chain did not verify. A host name
// mismatch is not a chain problem. With validate false it always answers
// Neutral.
func ChainIsValid(validate bool) Rule {
	return RuleFunc(func(peer Peer) Behavior {
		if !validate {
			return Neutral
		}
		if peer.Cert == nil {
			return NotAllowed
		}
		var hostname x509.HostnameError
		if peer.ChainErr == nil || errors.As(peer.ChainErr, &hostname) {
			return Neutral
		}
		return NotAllowed
	})
}

// TimeValid rejects certificates outside their validity period.
func TimeValid(acc Accessor) Rule {
	return RuleFunc(func(peer Peer) Behavior {
		if !isTimeValid(acc, peer.Cert) {
			return NotAllowed
		}
		return Neutral
	})
}

func isTimeValid(acc Accessor, cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	now := acc.Now()
	return !acc.NotBefore(cert).After(now) && !acc.NotAfter(cert).Before(now)
}

// NotExtraLongValidity rejects certificates valid for longer than
// maxValidity, which must be at least a day.
func NotExtraLongValidity(acc Accessor, maxValidity time.Duration) (Rule, error) {
	if maxValidity < 24*time.Hour {
		return nil, fmt.Errorf("max validity %s is shorter than a day", maxValidity)
	}
	return RuleFunc(func(peer Peer) Behavior {
		if peer.Cert == nil {
			return NotAllowed
		}
		if acc.NotAfter(peer.Cert).After(acc.NotBefore(peer.Cert).Add(maxValidity)) {
			return NotAllowed
		}
		return Neutral
	}), nil
}

// BreakGlassThumbprints lets the listed certificates in unless they are
// blacklisted. "*" matches any certificate. A missing certificate is Neutral.
func BreakGlassThumbprints(acc Accessor, thumbprints ...string) Rule {
	listed := newStringSet(thumbprints, true)
	return RuleFunc(func(peer Peer) Behavior {
		if peer.Cert == nil {
			return Neutral
		}
		if listed.contains(acc.Thumbprint(peer.Cert)) {
			return BreakGlassUnlessBlackListed
		}
		return Neutral
	})
}

// BreakGlassCertificates lets the listed certificates in unless they are
// blacklisted. With allowNoCert a peer without a certificate breaks glass too.
// Listed certificates must be time valid.
func BreakGlassCertificates(acc Accessor, allowNoCert bool, certs ...*x509.Certificate) (Rule, error) {
	thumbprints := make([]string, 0, len(certs))
	for _, cert := range certs {
		if cert == nil {
			return nil, errors.New("nil break glass certificate")
		}
		if !isTimeValid(acc, cert) {
			return nil, fmt.Errorf("break glass certificate %s is not time valid", acc.Thumbprint(cert))
		}
		thumbprints = append(thumbprints, acc.Thumbprint(cert))
	}
	listed := newStringSet(thumbprints, false)
	return RuleFunc(func(peer Peer) Behavior {
		if peer.Cert == nil {
			if allowNoCert {
				return BreakGlassUnlessBlackListed
			}
			return Neutral
		}
		if listed.contains(acc.Thumbprint(peer.Cert)) {
			return BreakGlassUnlessBlackListed
		}
		return Neutral
	}), nil
}

// BlackListThumbprints rejects the listed certificates whatever other rules
// say.
func BlackListThumbprints(acc Accessor, thumbprints ...string) Rule {
	listed := newStringSet(thumbprints, false)
	return RuleFunc(func(peer Peer) Behavior {
		if peer.Cert != nil && listed.contains(acc.Thumbprint(peer.Cert)) {
			return BlackListed
		}
		return Neutral
	})
}

// SubjectSignedBy allows a time valid certificate with a verified chain, the
// given subject and one of the signing thumbprints. With relaxed the chain is
// not checked.
func SubjectSignedBy(acc Accessor, subject string, signingThumbprints []string, relaxed bool) Rule {
	return AllowIfAllAllowed(
		NeutralAsAllow(TimeValid(acc)),
		NeutralAsAllow(ChainIsValid(!relaxed)),
		AllowSubjects(acc, subject),
		AllowSigningCert(acc, signingThumbprints...),
	)
}

// IncludedCertificates allows a time valid certificate with a verified chain
// that the predicate includes.
func IncludedCertificates(acc Accessor, included func(cert *x509.Certificate) bool, relaxed bool) Rule {
	return AllowIfAllAllowed(
		NeutralAsAllow(TimeValid(acc)),
		NeutralAsAllow(ChainIsValid(!relaxed)),
		AllowCertificates(included),
	)
}
