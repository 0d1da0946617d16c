package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for hashing. The version suffix allows the payload format
// to change without old hashes colliding with new ones.
const (
	DomainSignal      = "morphogen/signal/v1"
	DomainAttestation = "morphogen/attestation/v1"
	DomainKeySeed     = "morphogen/tpm-seed/v1"
)

// ValuePrecision is the number of decimal places a signal value is rendered
// with before hashing.
const ValuePrecision = 6

// Payload is the part of a signal covered by an attestation.
type Payload struct {
	Topic  string
	Value  float64
	Target string
	Step   int64
}

// CanonicalBytes renders the payload in its fixed signing format.
//
// CRITICAL: signer and verifier must hash byte-identical input, so floats
// use fixed precision and topics are NFC normalized.
func (p Payload) CanonicalBytes() []byte {
	var b strings.Builder
	b.WriteString("topic=")
	b.WriteString(norm.NFC.String(p.Topic))
	b.WriteString("\nvalue=")
	b.WriteString(strconv.FormatFloat(p.Value, 'f', ValuePrecision, 64))
	b.WriteString("\ntarget=")
	b.WriteString(norm.NFC.String(p.Target))
	b.WriteString("\nstep=")
	b.WriteString(strconv.FormatInt(p.Step, 10))
	return []byte(b.String())
}

// Hash returns the hex SHA-256 of the canonical payload under DomainSignal.
func (p Payload) Hash() string {
	return hashWithDomain(DomainSignal, p.CanonicalBytes())
}

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex.
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	sum := sumWithDomain(domain, data)
	return hex.EncodeToString(sum[:])
}

func sumWithDomain(domain string, parts ...[]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
