// Package webhook verifies inbound ci webhook deliveries and normalizes
// their provider-specific payloads into test result records.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/qadash/qadash/internal/model"
)

// Secrets holds the per-provider shared secrets. An empty value disables
// verification for that provider, this is a deliberate permissive default
// for internal deployments, not a bug.
type Secrets struct {
	// GitHub is the webhook signing secret used for the
	// X-Hub-Signature-256 hmac check.
	GitHub string
	// Jenkins is compared against the Authorization bearer token.
	Jenkins string
	// GitLab is compared against the X-Gitlab-Token header.
	GitLab string
}

// VerifyGitHubSignature checks the X-Hub-Signature-256 header against an
// hmac-sha256 of the exact raw request body. With a secret configured a
// missing or wrong signature is rejected; without one every request is
// accepted.
func VerifyGitHubSignature(body []byte, signature, secret string) error {
	if secret == "" {
		return nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	// hmac.Equal is constant-time only for equal lengths, a length
	// mismatch is safe to branch on.
	if len(signature) != len(expected) {
		return model.AuthenticationError{
			Message: "Invalid signature",
			Detail:  "Webhook signature verification failed",
		}
	}

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return model.AuthenticationError{
			Message: "Invalid signature",
			Detail:  "Webhook signature verification failed",
		}
	}

	return nil
}

// VerifyJenkinsToken checks the Authorization header against the configured
// token. Jenkins tokens are shared secrets, not signatures, so plain string
// equality is sufficient here.
func VerifyJenkinsToken(authorization, token string) error {
	if token == "" {
		return nil
	}

	if authorization != "Bearer "+token {
		return model.AuthenticationError{
			Message: "Invalid token",
			Detail:  "Webhook token verification failed",
		}
	}

	return nil
}

// VerifyGitLabToken checks the X-Gitlab-Token header against the configured
// token.
func VerifyGitLabToken(header, token string) error {
	if token == "" {
		return nil
	}

	if header != token {
		return model.AuthenticationError{
			Message: "Invalid token",
			Detail:  "Webhook token verification failed",
		}
	}

	return nil
}
