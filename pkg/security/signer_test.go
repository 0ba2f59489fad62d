package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := NewHMACSigner(DeriveKeyFromClusterID("test-cluster"))
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.NoError(t, signer.Verify([]byte("payload"), sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer, err := NewHMACSigner(DeriveKeyFromClusterID("test-cluster"))
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.Error(t, signer.Verify([]byte("tampered"), sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signerA, err := NewHMACSigner(DeriveKeyFromClusterID("cluster-a"))
	require.NoError(t, err)
	signerB, err := NewHMACSigner(DeriveKeyFromClusterID("cluster-b"))
	require.NoError(t, err)

	sig, err := signerA.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.Error(t, signerB.Verify([]byte("payload"), sig))
}

func TestNewHMACSignerRejectsEmptyKey(t *testing.T) {
	_, err := NewHMACSigner(nil)
	assert.Error(t, err)
}
