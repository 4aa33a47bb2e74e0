// Package license defines license claims, their canonical signed encoding, and
// the printable container that carries payload and signature together.
//
// Wire format (stable):
//
//	token   = base64std( payload "||" signature )
//	payload = {"machine_id":S,"issued_at":T,"expires_at":T,"validity_days":N}
//
// T is a UTC timestamp at second precision (YYYY-MM-DDTHH:MM:SSZ).
package license

import (
	"fmt"
	"time"
	"unicode/utf8"

	"xdao.co/license/licerr"
)

// MaxValidityDays bounds validity_days to roughly one century.
const MaxValidityDays = 36525

// Day is the unit of validity_days.
const Day = 24 * time.Hour

// Claims are the statements a license makes about the licensed machine.
//
// ValidityDays is informational; ExpiresAt is authoritative.
type Claims struct {
	MachineID    string    `json:"machine_id"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ValidityDays int       `json:"validity_days"`
}

// NewClaims builds claims for machineID valid for days from issuedAt.
// issuedAt is normalized to UTC at second precision.
func NewClaims(machineID string, days int, issuedAt time.Time) (Claims, error) {
	if err := ValidateMachineID(machineID); err != nil {
		return Claims{}, err
	}
	if err := ValidateDays(days); err != nil {
		return Claims{}, err
	}
	issued := issuedAt.UTC().Truncate(time.Second)
	return Claims{
		MachineID:    machineID,
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(time.Duration(days) * Day),
		ValidityDays: days,
	}, nil
}

// ValidateMachineID rejects empty and non-UTF-8 identifiers. Ids are
// otherwise opaque; surrounding whitespace is part of the id.
func ValidateMachineID(id string) error {
	if id == "" {
		return licerr.New(licerr.KindInvalidMachineID, "LIC-MID-001", "machine id must not be empty")
	}
	if !utf8.ValidString(id) {
		return licerr.New(licerr.KindInvalidMachineID, "LIC-MID-002", "machine id must be valid UTF-8")
	}
	return nil
}

// ValidateDays rejects non-positive and implausibly large validity periods.
func ValidateDays(days int) error {
	if days <= 0 {
		return licerr.New(licerr.KindInvalidValidity, "LIC-VAL-001",
			fmt.Sprintf("validity days must be positive, got %d", days))
	}
	if days > MaxValidityDays {
		return licerr.New(licerr.KindInvalidValidity, "LIC-VAL-002",
			fmt.Sprintf("validity days must be at most %d, got %d", MaxValidityDays, days))
	}
	return nil
}

// Expired reports whether the license is expired at now. Expiry is inclusive:
// a license is no longer valid at exactly ExpiresAt.
func (c Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Remaining returns the time left until expiry, or zero once expired.
func (c Claims) Remaining(now time.Time) time.Duration {
	if c.Expired(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// Equal reports whether both claims are identical.
func (c Claims) Equal(o Claims) bool {
	return c.MachineID == o.MachineID &&
		c.IssuedAt.Equal(o.IssuedAt) &&
		c.ExpiresAt.Equal(o.ExpiresAt) &&
		c.ValidityDays == o.ValidityDays
}
