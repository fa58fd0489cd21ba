package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aussiebroadwan/idp/pkg/idp"
)

// Keycloak has no stock challenge/response API for out-of-band MFA; realms
// that need one deploy a companion extension exposing the endpoints below.
// The adapter binds to that extension's wire contract.
const (
	mfaChallengePath = "/mfa/challenge"
	mfaVerifyPath    = "/mfa/verify"
)

// mfaErrorCodes maps the extension's error codes onto the shared taxonomy.
var mfaErrorCodes = map[string]idp.Kind{
	"challenge_not_found": idp.KindChallengeNotFound,
	"challenge_expired":   idp.KindChallengeExpired,
	"invalid_code":        idp.KindInvalidCode,
	"too_many_attempts":   idp.KindTooManyAttempts,
	"user_not_found":      idp.KindUserNotFound,
}

func mfaError(op string, resp *http.Response, body []byte) error {
	er := parseErrorBody(body)
	if kind, ok := mfaErrorCodes[er.Error]; ok {
		return idp.E(kind, op, er.message())
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return idp.E(idp.KindClientUnauthorized, op, er.message())
	}
	return idp.E(idp.KindUnavailable, op, fmt.Sprintf("mfa request failed with status %d", resp.StatusCode))
}

// MFAChallenge implements idp.Adapter against the realm MFA extension. The
// extension supersedes any pending challenge for the user, so only the
// returned challenge ID verifies afterwards.
func (a *Adapter) MFAChallenge(ctx context.Context, username string) (*idp.MFAChallenge, error) {
	const op = "mfaChallenge"

	payload := map[string]string{"username": username}
	resp, respBody, err := a.doAdmin(ctx, op, http.MethodPost, a.realmURL(mfaChallengePath), payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, mfaError(op, resp, respBody)
	}

	var wire struct {
		ChallengeID    string    `json:"challengeId"`
		DeliveryMethod string    `json:"deliveryMethod"`
		Destination    string    `json:"destination"`
		ExpiresAt      time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode challenge response: %w", err))
	}

	return &idp.MFAChallenge{
		ID:          wire.ChallengeID,
		Method:      idp.DeliveryMethod(wire.DeliveryMethod),
		Destination: wire.Destination,
		ExpiresAt:   wire.ExpiresAt,
	}, nil
}

// MFAVerify implements idp.Adapter. The extension consumes the challenge on
// success, so verifying the same ID again reports challenge_not_found.
func (a *Adapter) MFAVerify(ctx context.Context, req idp.MFAVerifyRequest) error {
	const op = "mfaVerify"

	payload := map[string]string{
		"challengeId": req.ChallengeID,
		"code":        req.Code,
		"userId":      req.UserID,
	}
	resp, body, err := a.doAdmin(ctx, op, http.MethodPost, a.realmURL(mfaVerifyPath), payload)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return mfaError(op, resp, body)
	}
	return nil
}
