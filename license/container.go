package license

import (
	"bytes"
	"encoding/base64"
	"strings"

	"xdao.co/license/licerr"
)

// Delimiter separates payload and signature inside a container.
var Delimiter = []byte("||")

// EncodeContainer joins payload and signature with Delimiter and encodes the
// result as standard padded base64.
//
// Callers must ensure Separable(payload, signature); Issuer does.
func EncodeContainer(payload, signature []byte) string {
	joined := make([]byte, 0, len(payload)+len(Delimiter)+len(signature))
	joined = append(joined, payload...)
	joined = append(joined, Delimiter...)
	joined = append(joined, signature...)
	return base64.StdEncoding.EncodeToString(joined)
}

// DecodeContainer reverses EncodeContainer. Surrounding whitespace is ignored
// and unpadded base64 is accepted. The split is on the last Delimiter.
func DecodeContainer(token string) (payload, signature []byte, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, licerr.New(licerr.KindMalformedContainer, "LIC-CONT-003", "empty license")
	}
	raw, err := decodeBase64(token)
	if err != nil {
		return nil, nil, licerr.Wrap(licerr.KindMalformedContainer, "LIC-CONT-001", "license is not valid base64", err)
	}
	i := bytes.LastIndex(raw, Delimiter)
	if i < 0 {
		return nil, nil, licerr.New(licerr.KindMalformedContainer, "LIC-CONT-002", "license has no payload delimiter")
	}
	return raw[:i], raw[i+len(Delimiter):], nil
}

// Separable reports whether DecodeContainer(EncodeContainer(payload, signature))
// yields payload and signature unchanged. Canonical payloads never contain the
// delimiter, so this only fails for signatures that contain it (or start with
// half of it).
func Separable(payload, signature []byte) bool {
	joined := make([]byte, 0, len(payload)+len(Delimiter)+len(signature))
	joined = append(joined, payload...)
	joined = append(joined, Delimiter...)
	joined = append(joined, signature...)
	return bytes.LastIndex(joined, Delimiter) == len(payload)
}

func decodeBase64(s string) ([]byte, error) {
	// Prefer standard padded encoding, but accept raw encoding too.
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
