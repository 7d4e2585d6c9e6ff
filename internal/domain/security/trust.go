package security

import (
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/noxsuite/noxhost/internal/domain/manifest"
)

// Trust errors.
var (
	ErrUnsupportedSignature = errors.New("unsupported signature type")
	ErrUnknownKey           = errors.New("signing key not in keyring")
	ErrBadSignature         = errors.New("signature verification failed")
)

// TrustLevel classifies how much verification backs a plugin.
type TrustLevel string

// Trust levels.
const (
	// TrustVerified means the signature checked out against a
	// configured trusted key.
	TrustVerified TrustLevel = "verified"
	// TrustCommunity means checksum-verified only.
	TrustCommunity TrustLevel = "community"
	// TrustUntrusted means no verification beyond the checksum store.
	TrustUntrusted TrustLevel = "untrusted"
)

// Keyring holds trusted SSH public keys for signature verification.
type Keyring struct {
	keys map[string]ssh.PublicKey
}

// NewKeyring parses authorized_keys-format entries into a keyring.
// Each entry's comment is used as its key ID.
func NewKeyring(entries []string) (*Keyring, error) {
	kr := &Keyring{keys: make(map[string]ssh.PublicKey)}
	for _, entry := range entries {
		pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(entry))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted key: %w", err)
		}
		id := comment
		if id == "" {
			id = ssh.FingerprintSHA256(pub)
		}
		kr.keys[id] = pub
	}
	return kr, nil
}

// Len returns the number of trusted keys.
func (k *Keyring) Len() int {
	return len(k.keys)
}

// Verify checks a manifest signature over the entry artifact content
// and returns the resulting trust level.
func (k *Keyring) Verify(sig *manifest.SignatureInfo, content []byte) (TrustLevel, error) {
	if sig.Type != "ssh" {
		return TrustUntrusted, fmt.Errorf("%w: %q", ErrUnsupportedSignature, sig.Type)
	}

	pub, ok := k.keys[sig.KeyID]
	if !ok {
		return TrustCommunity, fmt.Errorf("%w: %q", ErrUnknownKey, sig.KeyID)
	}

	blob, err := base64.StdEncoding.DecodeString(sig.Data)
	if err != nil {
		return TrustUntrusted, fmt.Errorf("%w: bad base64: %w", ErrBadSignature, err)
	}

	if err := pub.Verify(content, &ssh.Signature{Format: pub.Type(), Blob: blob}); err != nil {
		return TrustUntrusted, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return TrustVerified, nil
}
