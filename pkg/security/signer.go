// Package security provides the reference HMAC-SHA256 credential signer,
// adapted from the teacher's AES-256-GCM secrets manager: the same
// cluster-key derivation and byte-handling discipline, but signing rather
// than encrypting, since a launch credential needs to be verifiable by
// every node in the allocation, not kept confidential from them.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
)

// HMACSigner implements credential.Signer with HMAC-SHA256 over a shared
// cluster key.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner requires a non-empty key; 32 bytes (SHA-256 output size)
// is the recommended length, mirroring the teacher's AES-256 key-size
// convention even though HMAC itself has no fixed key-length requirement.
func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) == 0 {
		return nil, ridgeerr.New(ridgeerr.CodeUserInput, "signing key must not be empty")
	}
	return &HMACSigner{key: key}, nil
}

func (s *HMACSigner) Sign(payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

func (s *HMACSigner) Verify(payload, signature []byte) error {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, signature) != 1 {
		return ridgeerr.New(ridgeerr.CodeUserInput, "signature mismatch")
	}
	return nil
}

// DeriveKeyFromClusterID derives a 32-byte signing key from a cluster
// identifier string, for deployments that would rather configure one
// short identifier than manage a raw key file.
func DeriveKeyFromClusterID(clusterID string) []byte {
	sum := sha256.Sum256([]byte(clusterID))
	return sum[:]
}
