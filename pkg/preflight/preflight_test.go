package preflight

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/internal/testoutput"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gotest.tools/assert"
)

func selfSigned(t *testing.T) []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NilError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "updates.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	assert.NilError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

type testCheck struct {
	name     string
	needed   bool
	checkErr error
	applyOK  bool
	applyErr error
	applied  int
}

func (c *testCheck) Name() string { return c.name }

func (c *testCheck) Check(logrus.FieldLogger) (bool, error) { return c.needed, c.checkErr }

func (c *testCheck) Apply(logrus.FieldLogger) (bool, error) {
	c.applied++
	return c.applyOK, c.applyErr
}

func TestRunAggregates(t *testing.T) {
	checks := []*testCheck{
		{name: "fine"},
		{name: "fixable", needed: true, applyOK: true},
		{name: "broken", checkErr: errors.New("cannot tell")},
		{name: "stuck", needed: true, applyOK: false},
		{name: "apply-error", needed: true, applyErr: errors.New("read-only fs")},
	}
	var args []Check
	for _, c := range checks {
		args = append(args, c)
	}

	err := Run(testoutput.Logger(t, "preflight"), args...)
	var merr *multierror.Error
	assert.Assert(t, errors.As(err, &merr))
	assert.Equal(t, 3, len(merr.Errors))
	assert.Equal(t, 0, checks[0].applied)
	assert.Equal(t, 1, checks[1].applied)
	assert.Equal(t, 0, checks[2].applied)
}

func TestRunPasses(t *testing.T) {
	assert.NilError(t, Run(testoutput.Logger(t, "preflight"), &testCheck{name: "fine"}))
}

func TestDirCreatesMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "slot", "a")
	assert.NilError(t, Run(testoutput.Logger(t, "preflight"), Dir("slot-dir", dir)))
	stat, err := os.Stat(dir)
	assert.NilError(t, err)
	assert.Check(t, stat.IsDir())

	file := filepath.Join(t.TempDir(), "file")
	assert.NilError(t, os.WriteFile(file, nil, 0600))
	assert.ErrorContains(t, Run(testoutput.Logger(t, "preflight"), Dir("slot-dir", file)), "not a directory")

	store := filepath.Join(t.TempDir(), "state", "nvs.toml")
	assert.NilError(t, Run(testoutput.Logger(t, "preflight"), ParentDir("store-dir", store)))
	_, err = os.Stat(filepath.Dir(store))
	assert.NilError(t, err)
}

func TestTrustAnchor(t *testing.T) {
	log := testoutput.Logger(t, "preflight")
	assert.NilError(t, Run(log, TrustAnchor(selfSigned(t))))
	assert.NilError(t, Run(log, TrustAnchor(nil)))
	assert.ErrorContains(t, Run(log, TrustAnchor([]byte("garbage"))), "no certificates")

	corrupt := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("nope")})
	assert.ErrorContains(t, Run(log, TrustAnchor(corrupt)), "parse trust anchor")
}

type cleaner struct{ err error }

func (c cleaner) Clean() error { return c.err }

func TestClean(t *testing.T) {
	log := testoutput.Logger(t, "preflight")
	assert.NilError(t, Run(log, Clean("staging", cleaner{})))
	assert.ErrorContains(t, Run(log, Clean("staging", cleaner{errors.New("busy")})), "busy")
}
