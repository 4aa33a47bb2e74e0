// Package keys manages license signing key pairs.
//
// A KeyPair is generated once, persisted as a PEM private key and loaded by
// the issuing environment. Only its public half (see PublicHex) ever leaves
// that environment; the verifier works from pubkey alone.
//
// Two schemes are supported:
//   - p384 (default): ECDSA on NIST P-384 with SHA-384, stored as SEC1 "EC PRIVATE KEY".
//   - ed448: pure Ed448, stored as PKCS#8 "PRIVATE KEY" (RFC 8410).
//
// Store is a filesystem-backed convenience for the CLI. It is written against
// afero so callers can substitute an in-memory filesystem.
package keys
