// Package issuer produces signed license tokens.
package issuer

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"xdao.co/license/keys"
	"xdao.co/license/licerr"
	"xdao.co/license/license"
)

// DefaultConcurrency bounds IssueBatch unless WithConcurrency is given.
const DefaultConcurrency = 8

// maxSignAttempts bounds re-signing when a randomized signature cannot be
// separated from its payload (roughly 1 in 200 signatures).
const maxSignAttempts = 32

// License is an issued license.
type License struct {
	// Token is the printable license string handed to the licensee.
	Token     string
	Claims    license.Claims
	Payload   []byte
	Signature []byte
	// PublicHex is the trust anchor that verifies Token.
	PublicHex string
}

// Issuer signs licenses with a single key pair.
type Issuer struct {
	kp          *keys.KeyPair
	clock       clock.PassiveClock
	rand        io.Reader
	log         logrus.FieldLogger
	concurrency int
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock sets the time source for issued_at.
func WithClock(c clock.PassiveClock) Option {
	return func(i *Issuer) {
		i.clock = c
	}
}

// WithRand sets the randomness used for ECDSA nonces.
func WithRand(r io.Reader) Option {
	return func(i *Issuer) {
		i.rand = r
	}
}

// WithLogger sets the logger for per-license and batch entries.
func WithLogger(l logrus.FieldLogger) Option {
	return func(i *Issuer) {
		i.log = l
	}
}

// WithConcurrency sets the IssueBatch worker limit.
func WithConcurrency(n int) Option {
	return func(i *Issuer) {
		i.concurrency = n
	}
}

// New returns an Issuer for kp.
func New(kp *keys.KeyPair, opts ...Option) (*Issuer, error) {
	if kp == nil {
		return nil, licerr.New(licerr.KindInternal, "LIC-INT-001", "missing key pair")
	}
	i := &Issuer{
		kp:          kp,
		clock:       clock.RealClock{},
		rand:        rand.Reader,
		log:         logrus.StandardLogger(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.concurrency < 1 {
		i.concurrency = 1
	}
	return i, nil
}

// Issue signs a license for machineID valid for days from now.
func Issue(machineID string, days int, kp *keys.KeyPair) (*License, error) {
	i, err := New(kp)
	if err != nil {
		return nil, err
	}
	return i.Issue(machineID, days)
}

// Issue signs a license for machineID valid for days from the issuer's clock.
// The clock is sampled once.
func (i *Issuer) Issue(machineID string, days int) (*License, error) {
	return i.IssueAt(machineID, days, i.clock.Now())
}

// IssueAt signs a license with an explicit issued_at. For a deterministic
// scheme the result depends only on its inputs and the key pair.
func (i *Issuer) IssueAt(machineID string, days int, issuedAt time.Time) (*License, error) {
	claims, err := license.NewClaims(machineID, days, issuedAt)
	if err != nil {
		return nil, err
	}
	payload, err := license.Canonicalize(claims)
	if err != nil {
		return nil, err
	}
	sig, err := i.sign(payload)
	if err != nil {
		return nil, err
	}
	lic := &License{
		Token:     license.EncodeContainer(payload, sig),
		Claims:    claims,
		Payload:   payload,
		Signature: sig,
		PublicHex: i.kp.PublicHex(),
	}
	i.log.WithFields(logrus.Fields{
		"machine_id": claims.MachineID,
		"expires_at": claims.ExpiresAt.Format(license.TimeLayout),
		"key":        i.kp.Public().Fingerprint(),
	}).Debug("Issued license")
	return lic, nil
}

// PublicHex returns the trust anchor for licenses from this issuer.
func (i *Issuer) PublicHex() string { return i.kp.PublicHex() }

func (i *Issuer) sign(payload []byte) ([]byte, error) {
	for attempt := 1; attempt <= maxSignAttempts; attempt++ {
		sig, err := i.kp.Sign(i.rand, payload)
		if err != nil {
			return nil, err
		}
		if license.Separable(payload, sig) {
			return sig, nil
		}
		if i.kp.Deterministic() {
			return nil, licerr.New(licerr.KindInternal, "LIC-INT-002",
				"signature contains the license delimiter; issue again with a different issued_at")
		}
		i.log.WithField("attempt", attempt).Debug("Signature contains the license delimiter, signing again")
	}
	return nil, licerr.New(licerr.KindInternal, "LIC-INT-003", "could not produce a well-formed license signature")
}
