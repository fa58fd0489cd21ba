package local

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/idp/pkg/cryptox"
	"github.com/aussiebroadwan/idp/pkg/idp"
	"github.com/aussiebroadwan/idp/pkg/idp/local/store"
	"github.com/aussiebroadwan/idp/pkg/idx"
)

// MFAChallenge issues a challenge for the user. Users enrolled in TOTP
// verify against their authenticator; otherwise a one-time code goes out by
// SMS when a phone number is on file, falling back to email. Any pending
// challenge for the user is superseded first.
func (a *Adapter) MFAChallenge(ctx context.Context, username string) (*idp.MFAChallenge, error) {
	const op = "local.MFAChallenge"

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, idp.E(idp.KindUserNotFound, op, "user does not exist")
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}

	now := time.Now().UTC()
	challenge := store.MFAChallenge{
		ID:        idx.New().String(),
		UserID:    user.ID,
		ExpiresAt: now.Add(a.cfg.ChallengeTTL),
		CreatedAt: now,
	}

	var code string
	switch {
	case user.TOTPSecret != "":
		challenge.Method = string(idp.DeliveryTOTP)
	case user.Phone != "":
		challenge.Method = string(idp.DeliverySMS)
		challenge.Destination = maskPhone(user.Phone)
	default:
		challenge.Method = string(idp.DeliveryEmail)
		challenge.Destination = maskEmail(user.Email)
	}
	if challenge.Method != string(idp.DeliveryTOTP) {
		code, err = generateCode()
		if err != nil {
			return nil, idp.Wrap(idp.KindUnavailable, op, "generate code", err)
		}
		challenge.CodeHash = cryptox.FingerprintToken(code)
	}

	err = a.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.SupersedePendingChallenges(ctx, user.ID); err != nil {
			return err
		}
		return tx.CreateMFAChallenge(ctx, challenge)
	})
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "store challenge", err)
	}

	if code != "" {
		if a.cfg.SendCode == nil {
			return nil, idp.E(idp.KindUnavailable, op, "no code delivery configured")
		}
		dest := user.Email
		if challenge.Method == string(idp.DeliverySMS) {
			dest = user.Phone
		}
		if err := a.cfg.SendCode(ctx, idp.DeliveryMethod(challenge.Method), dest, code); err != nil {
			return nil, idp.Wrap(idp.KindUnavailable, op, "deliver code", err)
		}
	}

	return &idp.MFAChallenge{
		ID:          challenge.ID,
		Method:      idp.DeliveryMethod(challenge.Method),
		Destination: challenge.Destination,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// MFAVerify consumes a pending challenge. Wrong codes count against the
// challenge; after maxChallengeAttempts the challenge locks out for good.
func (a *Adapter) MFAVerify(ctx context.Context, req idp.MFAVerifyRequest) error {
	const op = "local.MFAVerify"

	challenge, err := a.store.GetMFAChallenge(ctx, req.ChallengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return idp.E(idp.KindChallengeNotFound, op, "challenge does not exist")
		}
		return idp.Wrap(idp.KindUnavailable, op, "look up challenge", err)
	}

	if req.UserID != "" && req.UserID != challenge.UserID {
		return idp.E(idp.KindChallengeNotFound, op, "challenge does not belong to this user")
	}
	if challenge.State != store.ChallengeStatePending {
		return idp.E(idp.KindChallengeNotFound, op, "challenge already consumed or superseded")
	}
	if time.Now().UTC().After(challenge.ExpiresAt) {
		return idp.E(idp.KindChallengeExpired, op, "challenge has expired")
	}
	if challenge.Attempts >= maxChallengeAttempts {
		return idp.E(idp.KindTooManyAttempts, op, "too many failed attempts")
	}

	if !a.verifyLimiter(challenge.UserID).Allow() {
		return idp.E(idp.KindTooManyAttempts, op, "verification rate exceeded")
	}

	ok := false
	if challenge.Method == string(idp.DeliveryTOTP) {
		user, err := a.store.GetUser(ctx, challenge.UserID)
		if err != nil {
			return idp.Wrap(idp.KindUnavailable, op, "look up user", err)
		}
		ok = totp.Validate(req.Code, user.TOTPSecret)
	} else {
		ok = challenge.CodeHash == cryptox.FingerprintToken(req.Code)
	}

	if !ok {
		attempts, err := a.store.IncrementChallengeAttempts(ctx, challenge.ID)
		if err != nil {
			return idp.Wrap(idp.KindUnavailable, op, "record failed attempt", err)
		}
		if attempts >= maxChallengeAttempts {
			return idp.E(idp.KindTooManyAttempts, op, "too many failed attempts")
		}
		return idp.E(idp.KindInvalidCode, op, "code does not match")
	}

	if err := a.store.MarkChallengeVerified(ctx, challenge.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// lost the race to another verify
			return idp.E(idp.KindChallengeNotFound, op, "challenge already consumed or superseded")
		}
		return idp.Wrap(idp.KindUnavailable, op, "mark challenge verified", err)
	}
	return nil
}

// EnrollTOTP provisions an authenticator secret for the user and returns
// the secret alongside its otpauth:// provisioning URL. Once enrolled,
// challenges for the user switch to TOTP and nothing is delivered
// out-of-band.
func (a *Adapter) EnrollTOTP(ctx context.Context, userID string) (secret, url string, err error) {
	const op = "local.EnrollTOTP"

	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", idp.E(idp.KindUserNotFound, op, "user does not exist")
		}
		return "", "", idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.cfg.Issuer,
		AccountName: user.Username,
	})
	if err != nil {
		return "", "", idp.Wrap(idp.KindUnavailable, op, "generate totp key", err)
	}

	sec := key.Secret()
	if err := a.store.UpdateUser(ctx, user.ID, store.UserPatch{TOTPSecret: &sec}, time.Now().UTC()); err != nil {
		return "", "", idp.Wrap(idp.KindUnavailable, op, "store totp secret", err)
	}
	return sec, key.URL(), nil
}

// generateCode produces a 6-digit one-time code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// maskEmail keeps the first and last character of the mailbox and the full
// domain, e.g. "a***e@example.com".
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	box, domain := email[:at], email[at:]
	if len(box) <= 2 {
		return box[:1] + "***" + domain
	}
	return box[:1] + "***" + box[len(box)-1:] + domain
}

// maskPhone keeps the last two digits, e.g. "*******89".
func maskPhone(phone string) string {
	if len(phone) <= 2 {
		return "***"
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
