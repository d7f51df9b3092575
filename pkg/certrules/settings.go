package certrules

import (
	"errors"
	"strings"
	"time"
)

// Settings configure the standard rule set.
type Settings struct {
	BlacklistedThumbprints []string `toml:"blacklisted_thumbprints"`
	BreakGlassThumbprints  []string `toml:"break_glass_thumbprints"`
	// AllowedSubjectNames pairs with AllowedSigningThumbprints by position.
	AllowedSubjectNames []string `toml:"allowed_subject_names"`
	// AllowedSigningThumbprints holds one ";" separated list per subject.
	AllowedSigningThumbprints []string `toml:"allowed_signing_thumbprints"`
	MaxValidityDays           float64  `toml:"max_validity_days" validate:"gte=0"`
	// RelaxValidationForTestCertificates skips chain validation.
	RelaxValidationForTestCertificates bool `toml:"relax_validation_for_test_certificates"`
}

func (s Settings) IsZero() bool {
	return len(s.BlacklistedThumbprints) == 0 &&
		len(s.BreakGlassThumbprints) == 0 &&
		len(s.AllowedSubjectNames) == 0 &&
		s.MaxValidityDays == 0
}

// FromSettings builds the standard rule set. A certificate must match one of
// the allowed subjects, unless it breaks glass, and must not be blacklisted
// or valid for too long.
func FromSettings(acc Accessor, settings Settings) (Scoped, error) {
	if len(settings.AllowedSubjectNames) != len(settings.AllowedSigningThumbprints) {
		return Scoped{}, errors.New("allowed subject names and allowed signing thumbprints must have the same length")
	}

	var accepted []Rule
	for i, subject := range settings.AllowedSubjectNames {
		signing := splitList(settings.AllowedSigningThumbprints[i], ";")
		accepted = append(accepted, SubjectSignedBy(acc, strings.TrimSpace(subject), signing, settings.RelaxValidationForTestCertificates))
	}

	var rules []Rule
	if len(accepted) > 0 {
		rules = append(rules, AllowIfAnyAllowed(accepted...))
	}
	if len(settings.BreakGlassThumbprints) > 0 {
		rules = append(rules, BreakGlassThumbprints(acc, settings.BreakGlassThumbprints...))
	}
	if len(settings.BlacklistedThumbprints) > 0 {
		rules = append(rules, BlackListThumbprints(acc, settings.BlacklistedThumbprints...))
	}
	if settings.MaxValidityDays > 0 {
		rule, err := NotExtraLongValidity(acc, time.Duration(settings.MaxValidityDays*float64(24*time.Hour)))
		if err != nil {
			return Scoped{}, err
		}
		rules = append(rules, rule)
	}
	return Scoped{Role: RoleAll, Rule: AllowIfAllCoherent(rules...)}, nil
}

func splitList(s string, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
