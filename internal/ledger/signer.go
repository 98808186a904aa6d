package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Signer derives an Ed25519 key from the configured ledger secret and signs
// entry content hashes. Deriving via HKDF keeps the raw secret out of memory
// dumps of the key material and lets deployments rotate by changing the
// secret.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner derives the signing key from secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("ledger signing secret is required")
	}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("assent-ledger-signing-v1"))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("derive signing seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign returns the hex-encoded signature over the content hash.
func (s *Signer) Sign(contentHash string) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, []byte(contentHash)))
}

// Verify reports whether signature is a valid signature over contentHash.
func (s *Signer) Verify(contentHash, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.pub, []byte(contentHash), sig)
}

// contentHash computes the chain hash for an entry's immutable fields.
func contentHash(seq uint64, proposalID string, eventType EventType, snapshot json.RawMessage, prevHash string) (string, error) {
	hashInput := struct {
		Seq        uint64          `json:"seq"`
		ProposalID string          `json:"proposal_id"`
		Type       EventType       `json:"type"`
		Snapshot   json.RawMessage `json:"snapshot"`
		PrevHash   string          `json:"prev"`
	}{seq, proposalID, eventType, snapshot, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal hash input: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
