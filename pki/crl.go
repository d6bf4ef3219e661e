package pki

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrInvalidCRL is returned when the CRL file holds neither a PEM "X509 CRL"
// block nor a DER encoded revocation list.
var ErrInvalidCRL = errors.New("invalid CRL data")

// CRLInfo summarizes a certificate revocation list.
type CRLInfo struct {
	Issuer       string    `json:"issuer"`
	Number       string    `json:"number,omitempty"`
	ThisUpdate   time.Time `json:"this_update"`
	NextUpdate   time.Time `json:"next_update,omitzero"`
	RevokedCount int       `json:"revoked_count"`
	Stale        bool      `json:"stale"`
	SHA256       string    `json:"sha256"`
}

// InspectCRL reads and summarizes the CRL at path.
func InspectCRL(path string) (*CRLInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CRL: %w", err)
	}
	return ParseCRL(data, time.Now())
}

// ParseCRL summarizes a PEM or DER encoded CRL. A CRL whose next update lies
// before now is reported as stale.
func ParseCRL(data []byte, now time.Time) (*CRLInfo, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "X509 CRL" {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidCRL, block.Type)
		}
		der = block.Bytes
	}

	rl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCRL, err)
	}

	sum := sha256.Sum256(der)
	info := &CRLInfo{
		Issuer:       subjectString(rl.Issuer),
		ThisUpdate:   rl.ThisUpdate.UTC(),
		RevokedCount: len(rl.RevokedCertificateEntries),
		SHA256:       hex.EncodeToString(sum[:]),
	}
	if rl.Number != nil {
		info.Number = rl.Number.String()
	}
	if !rl.NextUpdate.IsZero() {
		info.NextUpdate = rl.NextUpdate.UTC()
		info.Stale = now.After(rl.NextUpdate)
	}
	return info, nil
}

// subjectString formats a pkix.Name as a readable DN string.
func subjectString(name pkix.Name) string {
	var parts []string
	if name.CommonName != "" {
		parts = append(parts, "CN="+name.CommonName)
	}
	for _, ou := range name.OrganizationalUnit {
		parts = append(parts, "OU="+ou)
	}
	for _, o := range name.Organization {
		parts = append(parts, "O="+o)
	}
	for _, l := range name.Locality {
		parts = append(parts, "L="+l)
	}
	for _, p := range name.Province {
		parts = append(parts, "ST="+p)
	}
	for _, c := range name.Country {
		parts = append(parts, "C="+c)
	}
	return strings.Join(parts, ", ")
}
