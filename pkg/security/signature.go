package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/manifest"
)

// ErrSignatureInvalid is wrapped by every verification failure.
var ErrSignatureInvalid = fmt.Errorf("signature verification failed")

// TrustPolicy controls when signature verification may be skipped.
// Verification is skipped only when signatures are not required AND
// untrusted plugins are allowed; any other combination makes a missing or
// failed signature a hard error.
type TrustPolicy struct {
	RequireSignatures bool
	AllowUntrusted    bool
}

// Skippable reports whether the policy permits loading an unsigned plugin.
func (p TrustPolicy) Skippable() bool {
	return !p.RequireSignatures && p.AllowUntrusted
}

// VerifyResult describes the outcome of a package verification.
type VerifyResult struct {
	Verified bool     // signature and checksums matched
	Skipped  bool     // policy allowed skipping an unsigned package
	Failures []string // descriptive entries for each mismatch
}

// SignatureVerifier validates plugin package integrity: an HMAC-SHA256
// signature over the manifest bytes plus per-file SHA-256 checksums for the
// package contents.
type SignatureVerifier struct {
	logger zerolog.Logger
	policy TrustPolicy
	secret []byte
}

// NewSignatureVerifier creates a verifier for the given trust policy. The
// secret is the shared signing key distributed with the host.
func NewSignatureVerifier(logger zerolog.Logger, policy TrustPolicy, secret []byte) *SignatureVerifier {
	return &SignatureVerifier{
		logger: logger.With().Str("component", "signature-verifier").Logger(),
		policy: policy,
		secret: secret,
	}
}

// Policy returns the trust policy the verifier enforces.
func (v *SignatureVerifier) Policy() TrustPolicy {
	return v.policy
}

// VerifyPackage validates the plugin package rooted at dir. The manifest
// bytes must be the exact on-disk content of plugin.json.
func (v *SignatureVerifier) VerifyPackage(dir string, manifestBytes []byte) (VerifyResult, error) {
	sigPath := filepath.Join(dir, manifest.SignatureFileName)
	data, err := os.ReadFile(sigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if v.policy.Skippable() {
				v.logger.Warn().Str("dir", dir).Msg("Package unsigned, trust policy allows loading")
				return VerifyResult{Skipped: true}, nil
			}
			return VerifyResult{}, fmt.Errorf("%w: package is unsigned", ErrSignatureInvalid)
		}
		return VerifyResult{}, fmt.Errorf("failed to read signature file: %w", err)
	}

	var sig manifest.Signature
	if err := json.Unmarshal(data, &sig); err != nil {
		return VerifyResult{}, fmt.Errorf("%w: malformed signature file: %v", ErrSignatureInvalid, err)
	}

	if sig.Algorithm != "sha256" {
		return VerifyResult{}, fmt.Errorf("%w: unsupported algorithm %q", ErrSignatureInvalid, sig.Algorithm)
	}

	expected := computeHMACSHA256(manifestBytes, v.secret)
	// Timing-safe comparison to prevent timing attacks.
	if subtle.ConstantTimeCompare([]byte(sig.Signature), []byte(expected)) != 1 {
		return VerifyResult{}, fmt.Errorf("%w: manifest signature mismatch", ErrSignatureInvalid)
	}

	failures := verifyChecksums(dir, sig.Files)
	if len(failures) > 0 {
		return VerifyResult{Failures: failures},
			fmt.Errorf("%w: %d file(s) failed checksum verification", ErrSignatureInvalid, len(failures))
	}

	return VerifyResult{Verified: true}, nil
}

// Sign produces the signature record for a package. Used by packaging
// tooling and by tests.
func (v *SignatureVerifier) Sign(manifestBytes []byte, files []manifest.FileChecksum) manifest.Signature {
	return manifest.Signature{
		Algorithm: "sha256",
		Signature: computeHMACSHA256(manifestBytes, v.secret),
		Files:     files,
	}
}

func computeHMACSHA256(body, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// verifyChecksums compares package files against their expected hashes.
// Extra files in the directory are ignored; missing or modified expected
// files are failures. Paths that escape the package directory are rejected.
func verifyChecksums(dir string, expected []manifest.FileChecksum) []string {
	var failures []string

	cleanDir := filepath.Clean(dir)
	for _, fc := range expected {
		filePath := filepath.Join(cleanDir, filepath.FromSlash(fc.Path))

		rel, err := filepath.Rel(cleanDir, filePath)
		if err != nil || !filepath.IsLocal(rel) {
			failures = append(failures, fmt.Sprintf("%s: path escapes package directory", fc.Path))
			continue
		}

		sum, err := hashFile(filePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				failures = append(failures, fmt.Sprintf("%s: missing", fc.Path))
			} else {
				failures = append(failures, fmt.Sprintf("%s: %v", fc.Path, err))
			}
			continue
		}

		if subtle.ConstantTimeCompare([]byte(sum), []byte(fc.SHA256)) != 1 {
			failures = append(failures, fmt.Sprintf("%s: checksum mismatch", fc.Path))
		}
	}

	return failures
}

// HashFile computes the lowercase hex SHA-256 of a file. Exported for
// packaging tooling.
func HashFile(path string) (string, error) {
	return hashFile(path)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
