package attest

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrCompromised is returned by a compromised TPM asked to sign.
var ErrCompromised = errors.New("tpm compromised: refusing to sign")

// ErrUnknownCell is returned when provisioning or signing refers to a cell
// the authority does not know.
var ErrUnknownCell = errors.New("unknown cell")

// Attestation binds a signal payload to the cell and step that produced it.
type Attestation struct {
	CellID      string `json:"cell_id"`
	Step        int64  `json:"step"`
	PayloadHash string `json:"payload_hash"`
	Signature   []byte `json:"signature"`
}

// Authority is the simulated hardware root of trust. It owns every cell's
// key material and exposes only signing capabilities and verification.
//
// Thread-safety: Verify may be called concurrently with itself; Provision and
// Revoke take the write lock.
type Authority struct {
	mu   sync.RWMutex
	seed int64
	keys map[string]ed25519.PublicKey
}

// NewAuthority creates an authority whose key derivation is fixed by seed,
// so two runs with the same seed produce identical signatures.
func NewAuthority(seed int64) *Authority {
	return &Authority{
		seed: seed,
		keys: make(map[string]ed25519.PublicKey),
	}
}

// Provision creates the TPM for cellID and registers its public key.
// Provisioning the same id twice is an error.
func (a *Authority) Provision(cellID string, compromised bool) (*TPM, error) {
	if cellID == "" {
		return nil, fmt.Errorf("provision: %w: empty id", ErrUnknownCell)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.keys[cellID]; exists {
		return nil, fmt.Errorf("provision: cell %s already has a TPM", cellID)
	}

	seed := sumWithDomain(DomainKeySeed, []byte(strconv.FormatInt(a.seed, 10)), []byte(cellID))
	priv := ed25519.NewKeyFromSeed(seed[:])
	a.keys[cellID] = priv.Public().(ed25519.PublicKey)

	return &TPM{cellID: cellID, key: priv, compromised: compromised}, nil
}

// Revoke forgets cellID's public key. Attestations from a revoked cell no
// longer verify.
func (a *Authority) Revoke(cellID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, cellID)
}

// Registered reports whether cellID has a live key.
func (a *Authority) Registered(cellID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[cellID]
	return ok
}

// Verify checks att against payload at currentStep. It fails closed: any
// malformed, stale, future, mismatched or unknown input yields false.
func (a *Authority) Verify(att *Attestation, payload Payload, currentStep int64) bool {
	if att == nil || att.CellID == "" || att.PayloadHash == "" {
		return false
	}
	if len(att.Signature) != ed25519.SignatureSize {
		return false
	}
	if delta := currentStep - att.Step; delta > 1 || delta < -1 {
		return false
	}
	if att.Step != payload.Step {
		return false
	}
	if payload.Hash() != att.PayloadHash {
		return false
	}

	a.mu.RLock()
	pub, ok := a.keys[att.CellID]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	msg := signingMessage(att.CellID, att.Step, att.PayloadHash)
	return ed25519.Verify(pub, msg[:], att.Signature)
}

// TPM is a cell's signing capability. The private key never leaves it.
type TPM struct {
	cellID      string
	key         ed25519.PrivateKey
	compromised bool
}

// CellID returns the cell this TPM belongs to.
func (t *TPM) CellID() string { return t.cellID }

// Compromised reports whether the TPM refuses to sign.
func (t *TPM) Compromised() bool { return t.compromised }

// Sign attests payload. The attestation step is the payload step.
func (t *TPM) Sign(payload Payload) (*Attestation, error) {
	if t == nil || t.key == nil {
		return nil, ErrUnknownCell
	}
	if t.compromised {
		return nil, ErrCompromised
	}

	hash := payload.Hash()
	msg := signingMessage(t.cellID, payload.Step, hash)
	return &Attestation{
		CellID:      t.cellID,
		Step:        payload.Step,
		PayloadHash: hash,
		Signature:   ed25519.Sign(t.key, msg[:]),
	}, nil
}

// MarshalJSON excludes the private key.
func (t *TPM) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CellID      string `json:"cell_id"`
		Compromised bool   `json:"compromised"`
		PublicKey   []byte `json:"public_key"`
	}{
		CellID:      t.cellID,
		Compromised: t.compromised,
		PublicKey:   t.key.Public().(ed25519.PublicKey),
	})
}

// String redacts the key material.
func (t *TPM) String() string {
	return fmt.Sprintf("TPM{cell=%s compromised=%t key=[REDACTED]}", t.cellID, t.compromised)
}

// GoString keeps %#v from printing the key.
func (t *TPM) GoString() string { return t.String() }

func signingMessage(cellID string, step int64, payloadHash string) [32]byte {
	return sumWithDomain(DomainAttestation,
		[]byte(cellID),
		[]byte(strconv.FormatInt(step, 10)),
		[]byte(payloadHash),
	)
}
