// Package preflight verifies and, where it can, repairs the host before the
// agent starts polling.
package preflight

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Check is a condition the agent needs. Check reports whether Apply is
// needed; Apply reports whether it fixed the condition.
type Check interface {
	Name() string
	Check(logrus.FieldLogger) (bool, error)
	Apply(logrus.FieldLogger) (bool, error)
}

// Run evaluates checks in order and applies those that are needed. Every
// check runs; failures are collected into the returned error.
func Run(log logging.Logger, checks ...Check) error {
	var result *multierror.Error
	applied := false

	for _, c := range checks {
		clog := log.WithField("check", c.Name())
		needed, err := c.Check(clog)
		if err != nil {
			clog.WithError(err).Error("check failed")
			result = multierror.Append(result, errors.WithMessage(err, c.Name()))
			continue
		}
		if !needed {
			clog.Debug("not needed")
			continue
		}

		clog.Warn("applying fix")
		ok, err := c.Apply(clog)
		if err != nil {
			clog.WithError(err).Error("unable to apply fix")
			result = multierror.Append(result, errors.WithMessage(err, c.Name()))
			continue
		}
		if !ok {
			clog.Error("fix unsuccessful")
			result = multierror.Append(result, errors.Errorf("%s: fix unsuccessful", c.Name()))
			continue
		}
		applied = true
		clog.Info("applied fix")
	}

	if applied {
		log.Info("applied preflight fixes")
	}
	return result.ErrorOrNil()
}

// Dir requires path to be a directory, creating it when absent.
func Dir(name, path string) Check {
	return &dirCheck{name: name, path: path}
}

type dirCheck struct {
	name string
	path string
}

func (d *dirCheck) Name() string { return d.name }

func (d *dirCheck) Check(log logrus.FieldLogger) (bool, error) {
	stat, err := os.Stat(d.path)
	if os.IsNotExist(err) {
		log.WithField("path", d.path).Debug("directory missing")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !stat.IsDir() {
		return false, errors.Errorf("%s is not a directory", d.path)
	}
	return false, nil
}

func (d *dirCheck) Apply(logrus.FieldLogger) (bool, error) {
	if err := os.MkdirAll(d.path, 0750); err != nil {
		return false, errors.Wrapf(err, "create %s", d.path)
	}
	return true, nil
}

// ParentDir is Dir for the directory holding file.
func ParentDir(name, file string) Check {
	return Dir(name, filepath.Dir(file))
}

// TrustAnchor requires pemData to hold at least one parsable certificate.
// Nothing can be repaired: a bad anchor fails the check.
func TrustAnchor(pemData []byte) Check {
	return trustAnchor(pemData)
}

type trustAnchor []byte

func (trustAnchor) Name() string { return "trust-anchor" }

func (t trustAnchor) Check(log logrus.FieldLogger) (bool, error) {
	if len(t) == 0 {
		log.Warn("no trust anchor configured, using system roots")
		return false, nil
	}
	rest := []byte(t)
	certs := 0
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return false, errors.Wrap(err, "parse trust anchor")
		}
		log.WithFields(logrus.Fields{
			"subject":   cert.Subject.String(),
			"not-after": cert.NotAfter,
		}).Debug("trust anchor certificate")
		certs++
	}
	if certs == 0 {
		return false, errors.New("trust anchor contains no certificates")
	}
	return false, nil
}

func (trustAnchor) Apply(logrus.FieldLogger) (bool, error) {
	return false, nil
}

// Cleaner removes leftovers, such as staged images from an interrupted
// install.
type Cleaner interface {
	Clean() error
}

// Clean always applies c.
func Clean(name string, c Cleaner) Check {
	return &cleanCheck{name: name, c: c}
}

type cleanCheck struct {
	name string
	c    Cleaner
}

func (c *cleanCheck) Name() string { return c.name }

func (c *cleanCheck) Check(logrus.FieldLogger) (bool, error) { return true, nil }

func (c *cleanCheck) Apply(logrus.FieldLogger) (bool, error) {
	if err := c.c.Clean(); err != nil {
		return false, err
	}
	return true, nil
}
