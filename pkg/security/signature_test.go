package security

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaori/plughost/pkg/manifest"
)

var testSecret = []byte("host-signing-secret")

// writePackage lays out a signed plugin package in a temp dir.
func writePackage(t *testing.T, sign bool) (string, []byte) {
	t.Helper()
	dir := t.TempDir()

	manifestBytes := []byte(`{"id": "signed", "version": "1.0.0", "type": "frontend", "main": "index.js"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), manifestBytes, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("export default {}"), 0644))

	if sign {
		sum, err := HashFile(filepath.Join(dir, "index.js"))
		require.NoError(t, err)

		v := NewSignatureVerifier(zerolog.Nop(), TrustPolicy{}, testSecret)
		sig := v.Sign(manifestBytes, []manifest.FileChecksum{{Path: "index.js", SHA256: sum}})

		data, err := json.Marshal(sig)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.SignatureFileName), data, 0644))
	}

	return dir, manifestBytes
}

func TestVerifyPackage(t *testing.T) {
	t.Run("valid signature verifies", func(t *testing.T) {
		dir, manifestBytes := writePackage(t, true)

		v := NewSignatureVerifier(zerolog.Nop(), TrustPolicy{RequireSignatures: true}, testSecret)
		result, err := v.VerifyPackage(dir, manifestBytes)

		require.NoError(t, err)
		assert.True(t, result.Verified)
		assert.False(t, result.Skipped)
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		dir, manifestBytes := writePackage(t, true)

		v := NewSignatureVerifier(zerolog.Nop(), TrustPolicy{RequireSignatures: true}, []byte("wrong"))
		_, err := v.VerifyPackage(dir, manifestBytes)

		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("tampered manifest fails", func(t *testing.T) {
		dir, _ := writePackage(t, true)

		v := NewSignatureVerifier(zerolog.Nop(), TrustPolicy{RequireSignatures: true}, testSecret)
		_, err := v.VerifyPackage(dir, []byte(`{"id": "evil"}`))

		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("tampered file fails checksum", func(t *testing.T) {
		dir, manifestBytes := writePackage(t, true)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("tampered"), 0644))

		v := NewSignatureVerifier(zerolog.Nop(), TrustPolicy{RequireSignatures: true}, testSecret)
		result, err := v.VerifyPackage(dir, manifestBytes)

		assert.ErrorIs(t, err, ErrSignatureInvalid)
		require.Len(t, result.Failures, 1)
		assert.Contains(t, result.Failures[0], "checksum mismatch")
	})

	t.Run("missing expected file fails", func(t *testing.T) {
		dir, manifestBytes := writePackage(t, true)
		require.NoError(t, os.Remove(filepath.Join(dir, "index.js")))

		v := NewSignatureVerifier(zerolog.Nop(), TrustPolicy{RequireSignatures: true}, testSecret)
		result, err := v.VerifyPackage(dir, manifestBytes)

		assert.ErrorIs(t, err, ErrSignatureInvalid)
		require.Len(t, result.Failures, 1)
		assert.Contains(t, result.Failures[0], "missing")
	})

	t.Run("checksum path escaping the package is rejected", func(t *testing.T) {
		dir, manifestBytes := writePackage(t, false)

		v := NewSignatureVerifier(zerolog.Nop(), TrustPolicy{}, testSecret)
		sig := v.Sign(manifestBytes, []manifest.FileChecksum{{Path: "../outside", SHA256: "00"}})
		data, err := json.Marshal(sig)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.SignatureFileName), data, 0644))

		result, verr := v.VerifyPackage(dir, manifestBytes)
		assert.ErrorIs(t, verr, ErrSignatureInvalid)
		require.Len(t, result.Failures, 1)
		assert.Contains(t, result.Failures[0], "escapes package directory")
	})
}

func TestUnsignedPackage(t *testing.T) {
	tests := []struct {
		name    string
		policy  TrustPolicy
		wantErr bool
	}{
		{"signatures required", TrustPolicy{RequireSignatures: true}, true},
		{"untrusted not allowed", TrustPolicy{}, true},
		{"required overrides allow untrusted", TrustPolicy{RequireSignatures: true, AllowUntrusted: true}, true},
		{"skippable", TrustPolicy{AllowUntrusted: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, manifestBytes := writePackage(t, false)

			v := NewSignatureVerifier(zerolog.Nop(), tt.policy, testSecret)
			result, err := v.VerifyPackage(dir, manifestBytes)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSignatureInvalid)
			} else {
				require.NoError(t, err)
				assert.True(t, result.Skipped)
				assert.False(t, result.Verified)
			}
		})
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	dir, manifestBytes := writePackage(t, false)

	sig := manifest.Signature{Algorithm: "md5", Signature: "whatever"}
	data, err := json.Marshal(sig)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.SignatureFileName), data, 0644))

	v := NewSignatureVerifier(zerolog.Nop(), TrustPolicy{RequireSignatures: true}, testSecret)
	_, err = v.VerifyPackage(dir, manifestBytes)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}
