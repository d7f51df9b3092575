package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/mikekulinski/zkstore/pkg/certrules"
	"github.com/mikekulinski/zkstore/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// transportCredentials returns the credentials of the replica's gRPC server
// and of its connections to other replicas. Peers are checked with the
// certificate rules of the configuration in both directions.
func transportCredentials(fs afero.Fs, cfg config.TLSConfig, inst certrules.Instrumentation, log *logrus.Entry) (credentials.TransportCredentials, credentials.TransportCredentials, error) {
	if !cfg.Enabled() {
		return insecure.NewCredentials(), insecure.NewCredentials(), nil
	}

	certPEM, err := afero.ReadFile(fs, cfg.CertFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading certificate: %w", err)
	}
	keyPEM, err := afero.ReadFile(fs, cfg.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading key: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("loading key pair: %w", err)
	}
	caPEM, err := afero.ReadFile(fs, cfg.CAFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading CA: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, nil, errors.New("no certificate found in the CA file")
	}

	validator, err := newValidator(cfg.Rules, roots, inst, log)
	if err != nil {
		return nil, nil, err
	}
	return credentials.NewTLS(validator.ServerTLSConfig(cert)), credentials.NewTLS(validator.ClientTLSConfig(cert)), nil
}

// newValidator accepts peers with a valid chain and, when rules are
// configured, only those the rules accept.
func newValidator(settings certrules.Settings, roots *x509.CertPool, inst certrules.Instrumentation, log *logrus.Entry) (*certrules.Validator, error) {
	acc := certrules.X509Accessor{}
	opts := certrules.ValidatorOptions{
		Accessor:        acc,
		Roots:           roots,
		Instrumentation: inst,
		Logger:          log.WithField("component", "certrules"),
	}
	if settings.IsZero() {
		opts.Base = certrules.NeutralAsAllow(certrules.AllowIfAllCoherent(
			certrules.ChainIsValid(true),
			certrules.TimeValid(acc),
		))
		return certrules.NewValidator(opts), nil
	}

	rules, err := certrules.FromSettings(acc, settings)
	if err != nil {
		return nil, fmt.Errorf("certificate rules: %w", err)
	}
	opts.Base = certrules.ChainIsValid(true)
	return certrules.NewValidator(opts, rules), nil
}
