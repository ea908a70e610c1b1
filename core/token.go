package core

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// DefaultAccessTokenTTL applies when TokenConfig.TTL is zero.
const DefaultAccessTokenTTL = 30 * time.Minute

// tokenSigningMethod is the only algorithm issued and accepted.
var tokenSigningMethod = jwt.SigningMethodHS256

// TokenConfig configures a TokenCodec. Secret is required.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

// Claims is the validated content of an access token.
type Claims struct {
	SubjectID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec issues and decodes signed, time-limited access tokens.
// Tokens are stateless: nothing is stored server side, so a token stays valid
// until it expires even if the user changes their password.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenCodec validates cfg and builds a codec.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, oops.Code("TOKEN_SECRET_MISSING").Errorf("token signing secret is required")
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultAccessTokenTTL
	}
	if ttl < 0 {
		return nil, oops.Code("TOKEN_TTL_INVALID").With("ttl", ttl).Errorf("token ttl must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &TokenCodec{secret: secret, ttl: ttl, issuer: cfg.Issuer, now: now}, nil
}

// TTL returns the lifetime applied by Issue.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for subjectID valid for the configured TTL.
func (c *TokenCodec) Issue(subjectID int64) (string, error) {
	return c.IssueWithTTL(subjectID, c.ttl)
}

// IssueWithTTL signs a token for subjectID that expires ttl from now.
// A ttl of zero or less yields a token that is already expired.
func (c *TokenCodec) IssueWithTTL(subjectID int64, ttl time.Duration) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(subjectID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    c.issuer,
	}

	signed, err := jwt.NewWithClaims(tokenSigningMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("sub", subjectID).Wrap(err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry of token and returns its claims.
// Failures wrap one of ErrTokenMalformed, ErrTokenInvalidSignature,
// ErrTokenExpired or ErrTokenMissingSubject.
func (c *TokenCodec) Decode(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, oops.Code("TOKEN_MALFORMED").Wrap(ErrTokenMalformed)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{tokenSigningMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var parsed jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, oops.Code("TOKEN_MISSING_SUBJECT").Wrap(ErrTokenMissingSubject)
	}
	subjectID, err := strconv.ParseInt(parsed.Subject, 10, 64)
	if err != nil {
		return Claims{}, oops.Code("TOKEN_MALFORMED").
			With("reason", "non-integer subject").
			Wrap(ErrTokenMalformed)
	}

	claims := Claims{SubjectID: subjectID}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	return claims, nil
}

// mapJWTError translates jwt library errors into the token error taxonomy.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return oops.Code("TOKEN_MALFORMED").With("cause", err.Error()).Wrap(ErrTokenMalformed)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return oops.Code("TOKEN_INVALID_SIGNATURE").With("cause", err.Error()).Wrap(ErrTokenInvalidSignature)
	case errors.Is(err, jwt.ErrTokenExpired):
		return oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return oops.Code("TOKEN_INVALID_SIGNATURE").With("cause", "issuer mismatch").Wrap(ErrTokenInvalidSignature)
	default:
		return oops.Code("TOKEN_MALFORMED").With("cause", err.Error()).Wrap(ErrTokenMalformed)
	}
}
