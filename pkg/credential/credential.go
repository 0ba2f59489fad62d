// Package credential issues the opaque, signed token a step's launch is
// authorized with. Issuance and verification are defined here against a
// Signer interface; pkg/security ships the one concrete signer this
// module carries (HMAC-SHA256), standing in for the real credential
// plugin the production system would load.
package credential

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// Signer signs and verifies the byte payload backing a Credential. The
// step manager never depends on a concrete signer, only this interface.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	Verify(payload, signature []byte) error
}

// claims is the JSON payload that gets signed; Credential.Signature covers
// exactly these bytes.
type claims struct {
	ID        uuid.UUID `json:"id"`
	JobID     uint32    `json:"job_id"`
	StepID    uint32    `json:"step_id"`
	UserID    uint32    `json:"user_id"`
	NodeNames []string  `json:"node_names"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer issues and verifies credentials against a configured Signer and
// time-to-live.
type Issuer struct {
	signer Signer
	ttl    time.Duration
}

func NewIssuer(signer Signer, ttl time.Duration) *Issuer {
	return &Issuer{signer: signer, ttl: ttl}
}

// Issue builds and signs a Credential authorizing step's launch on its
// allocated nodes.
func (iss *Issuer) Issue(job *types.Job, step *types.Step) (types.Credential, error) {
	c := claims{
		ID:        uuid.New(),
		JobID:     job.ID,
		StepID:    step.ID,
		UserID:    job.UserID,
		NodeNames: step.NodeNames,
		ExpiresAt: time.Now().Add(iss.ttl),
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return types.Credential{}, ridgeerr.Wrap(ridgeerr.CodeStructural, "marshal credential claims", err)
	}
	sig, err := iss.signer.Sign(payload)
	if err != nil {
		return types.Credential{}, ridgeerr.Wrap(ridgeerr.CodeStructural, "sign credential", err)
	}
	return types.Credential{
		ID:        c.ID,
		JobID:     c.JobID,
		StepID:    c.StepID,
		UserID:    c.UserID,
		NodeNames: c.NodeNames,
		ExpiresAt: c.ExpiresAt,
		Signature: sig,
	}, nil
}

// Verify checks that cred's signature is valid and that it has not
// expired.
func (iss *Issuer) Verify(cred types.Credential) error {
	c := claims{
		ID:        cred.ID,
		JobID:     cred.JobID,
		StepID:    cred.StepID,
		UserID:    cred.UserID,
		NodeNames: cred.NodeNames,
		ExpiresAt: cred.ExpiresAt,
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return ridgeerr.Wrap(ridgeerr.CodeStructural, "marshal credential claims", err)
	}
	if err := iss.signer.Verify(payload, cred.Signature); err != nil {
		return ridgeerr.Wrap(ridgeerr.CodeUserInput, "credential signature invalid", err)
	}
	if time.Now().After(cred.ExpiresAt) {
		return ridgeerr.New(ridgeerr.CodeUserInput, "credential expired")
	}
	return nil
}
