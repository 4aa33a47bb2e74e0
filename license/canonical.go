package license

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"xdao.co/license/licerr"
)

// TimeLayout is the canonical timestamp layout (UTC, second precision).
const TimeLayout = "2006-01-02T15:04:05Z"

const (
	fieldMachineID    = "machine_id"
	fieldIssuedAt     = "issued_at"
	fieldExpiresAt    = "expires_at"
	fieldValidityDays = "validity_days"
)

var canonicalFields = []string{fieldMachineID, fieldIssuedAt, fieldExpiresAt, fieldValidityDays}

// Canonicalize is the single serialization choke point for signed payloads.
//
// The output is a JSON object with keys in fixed order and no insignificant
// whitespace. Strings are escaped by writeString, which never emits the
// container delimiter. Equal claims always produce identical bytes.
func Canonicalize(c Claims) ([]byte, error) {
	if err := ValidateMachineID(c.MachineID); err != nil {
		return nil, err
	}
	if err := ValidateDays(c.ValidityDays); err != nil {
		return nil, err
	}
	issued, err := formatTime(c.IssuedAt)
	if err != nil {
		return nil, err
	}
	expires, err := formatTime(c.ExpiresAt)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.WriteByte('{')
	writeString(&b, fieldMachineID)
	b.WriteByte(':')
	writeString(&b, c.MachineID)
	b.WriteByte(',')
	writeString(&b, fieldIssuedAt)
	b.WriteByte(':')
	writeString(&b, issued)
	b.WriteByte(',')
	writeString(&b, fieldExpiresAt)
	b.WriteByte(':')
	writeString(&b, expires)
	b.WriteByte(',')
	writeString(&b, fieldValidityDays)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(c.ValidityDays))
	b.WriteByte('}')
	return b.Bytes(), nil
}

// Decanonicalize parses a canonical payload.
//
// Input must be byte-identical to Canonicalize of the parsed claims: unknown,
// duplicate or missing fields, reordering, extra whitespace and alternative
// escapes are all rejected with KindMalformedPayload.
func Decanonicalize(payload []byte) (Claims, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Claims{}, licerr.Wrap(licerr.KindMalformedPayload, "LIC-PAY-001", "payload is not a JSON object", err)
	}
	if fields == nil {
		return Claims{}, licerr.New(licerr.KindMalformedPayload, "LIC-PAY-001", "payload is not a JSON object")
	}
	for k := range fields {
		if !isCanonicalField(k) {
			return Claims{}, licerr.New(licerr.KindMalformedPayload, "LIC-PAY-006", fmt.Sprintf("unknown field %q", k))
		}
	}
	for _, k := range canonicalFields {
		if _, ok := fields[k]; !ok {
			return Claims{}, licerr.New(licerr.KindMalformedPayload, "LIC-PAY-002", fmt.Sprintf("missing field %q", k))
		}
	}

	var (
		c               Claims
		issued, expires string
	)
	if err := decodeField(fields, fieldMachineID, &c.MachineID); err != nil {
		return Claims{}, err
	}
	if err := decodeField(fields, fieldIssuedAt, &issued); err != nil {
		return Claims{}, err
	}
	if err := decodeField(fields, fieldExpiresAt, &expires); err != nil {
		return Claims{}, err
	}
	if err := decodeField(fields, fieldValidityDays, &c.ValidityDays); err != nil {
		return Claims{}, err
	}

	var err error
	if c.IssuedAt, err = parseTime(fieldIssuedAt, issued); err != nil {
		return Claims{}, err
	}
	if c.ExpiresAt, err = parseTime(fieldExpiresAt, expires); err != nil {
		return Claims{}, err
	}
	if err := ValidateMachineID(c.MachineID); err != nil {
		return Claims{}, licerr.Wrap(licerr.KindMalformedPayload, "LIC-PAY-004", "invalid machine_id", err)
	}
	if err := ValidateDays(c.ValidityDays); err != nil {
		return Claims{}, licerr.Wrap(licerr.KindMalformedPayload, "LIC-PAY-004", "invalid validity_days", err)
	}

	again, err := Canonicalize(c)
	if err != nil {
		return Claims{}, licerr.Wrap(licerr.KindMalformedPayload, "LIC-PAY-005", "payload cannot be re-canonicalized", err)
	}
	if !bytes.Equal(again, payload) {
		return Claims{}, licerr.New(licerr.KindMalformedPayload, "LIC-PAY-005", "payload is not in canonical form")
	}
	return c, nil
}

func isCanonicalField(k string) bool {
	for _, f := range canonicalFields {
		if k == f {
			return true
		}
	}
	return false
}

func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	if err := json.Unmarshal(fields[name], dst); err != nil {
		return licerr.Wrap(licerr.KindMalformedPayload, "LIC-PAY-001", fmt.Sprintf("field %q has the wrong type", name), err)
	}
	return nil
}

func formatTime(t time.Time) (string, error) {
	u := t.UTC()
	if u.Year() < 1 || u.Year() > 9999 {
		return "", licerr.New(licerr.KindMalformedPayload, "LIC-PAY-003", "timestamp out of range")
	}
	return u.Truncate(time.Second).Format(TimeLayout), nil
}

func parseTime(name, s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, licerr.Wrap(licerr.KindMalformedPayload, "LIC-PAY-003", fmt.Sprintf("field %q is not a canonical timestamp", name), err)
	}
	return t.UTC(), nil
}

const hexDigits = "0123456789abcdef"

// writeString writes s as a JSON string. Quote, backslash and control
// characters are escaped; '|' is always written as \u007c.
func writeString(b *bytes.Buffer, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f || r == '|':
			b.WriteString(`\u00`)
			b.WriteByte(hexDigits[r>>4])
			b.WriteByte(hexDigits[r&0xf])
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	b.WriteByte('"')
}
