// Package pki drives an Easy-RSA style PKI through its command-line tools:
// it issues client bundles, revokes client certificates, regenerates and
// deploys the CRL, and inspects the CRL it produced.
//
// The PKI tooling itself is opaque. This package only decides which
// commands run, in which order, and how their failures are reported.
package pki

import (
	"errors"
	"regexp"
)

// ErrInvalidIdentifier is returned for a client common name that does not
// match the allowed pattern. Such values never reach a subprocess.
var ErrInvalidIdentifier = errors.New("invalid client identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// Identifier is a validated client common name: 3 to 32 characters from
// ASCII letters, digits, '_' and '-'. The only way to obtain a non-empty
// Identifier from untrusted input is ParseIdentifier.
type Identifier string

// ParseIdentifier validates s as a client common name.
func ParseIdentifier(s string) (Identifier, error) {
	if !ValidIdentifier(s) {
		return "", ErrInvalidIdentifier
	}
	return Identifier(s), nil
}

// ValidIdentifier reports whether s is an acceptable client common name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

func (id Identifier) String() string {
	return string(id)
}
