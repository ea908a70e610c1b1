package core

import (
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// signRaw signs arbitrary claims with the test secret, bypassing the codec.
func signRaw(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestCodec(t, fixedClock(now))

	token, err := c.Issue(42)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := c.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.SubjectID)
	assert.True(t, claims.IssuedAt.Equal(now))
	assert.True(t, claims.ExpiresAt.Equal(now.Add(DefaultAccessTokenTTL)))
}

func TestTokenCodec_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := now
	c := newTestCodec(t, func() time.Time { return clock })

	expired, err := c.IssueWithTTL(7, 0)
	require.NoError(t, err)
	_, err = c.Decode(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	token, err := c.IssueWithTTL(7, time.Minute)
	require.NoError(t, err)

	clock = now.Add(59 * time.Second)
	_, err = c.Decode(token)
	assert.NoError(t, err)

	clock = now.Add(time.Minute)
	_, err = c.Decode(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenCodec_WrongSecret(t *testing.T) {
	c := newTestCodec(t, nil)
	other, err := NewTokenCodec(TokenConfig{Secret: []byte("another-secret-another-secret-0000")})
	require.NoError(t, err)

	token, err := other.Issue(1)
	require.NoError(t, err)

	_, err = c.Decode(token)
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestTokenCodec_TamperedPayload(t *testing.T) {
	c := newTestCodec(t, nil)
	token, err := c.Issue(1)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	payload := `{"sub":"2","exp":` + strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10) + `}`
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(payload))

	_, err = c.Decode(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestTokenCodec_RejectsOtherAlgorithms(t *testing.T) {
	c := newTestCodec(t, nil)
	claims := jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	hs384 := signRaw(t, jwt.SigningMethodHS384, claims, []byte(testSecret))
	_, err := c.Decode(hs384)
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)

	none := signRaw(t, jwt.SigningMethodNone, claims, jwt.UnsafeAllowNoneSignatureType)
	_, err = c.Decode(none)
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestTokenCodec_ClaimProblems(t *testing.T) {
	c := newTestCodec(t, nil)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		claims jwt.Claims
		want   error
	}{
		{"missing subject", jwt.RegisteredClaims{ExpiresAt: exp}, ErrTokenMissingSubject},
		{"non-integer subject", jwt.RegisteredClaims{Subject: "alice", ExpiresAt: exp}, ErrTokenMalformed},
		{"missing exp", jwt.RegisteredClaims{Subject: "1"}, ErrTokenMalformed},
		{"numeric sub", jwt.MapClaims{"sub": 1, "exp": exp.Unix()}, ErrTokenMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signRaw(t, jwt.SigningMethodHS256, tt.claims, []byte(testSecret))
			_, err := c.Decode(token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTokenCodec_Garbage(t *testing.T) {
	c := newTestCodec(t, nil)
	for _, token := range []string{"", "garbage", "a.b", "a.b.c", "!!!.@@@.###"} {
		_, err := c.Decode(token)
		assert.ErrorIs(t, err, ErrTokenMalformed, "token=%q", token)
		assert.True(t, IsAuthError(err))
	}
}

func TestTokenCodec_Issuer(t *testing.T) {
	c, err := NewTokenCodec(TokenConfig{Secret: []byte(testSecret), Issuer: "teleclinic"})
	require.NoError(t, err)

	token, err := c.Issue(5)
	require.NoError(t, err)
	claims, err := c.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, int64(5), claims.SubjectID)

	other, err := NewTokenCodec(TokenConfig{Secret: []byte(testSecret), Issuer: "someone-else"})
	require.NoError(t, err)
	foreign, err := other.Issue(5)
	require.NoError(t, err)
	_, err = c.Decode(foreign)
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestNewTokenCodec_Validation(t *testing.T) {
	_, err := NewTokenCodec(TokenConfig{})
	assert.Error(t, err)

	_, err = NewTokenCodec(TokenConfig{Secret: []byte(testSecret), TTL: -time.Second})
	assert.Error(t, err)

	secret := []byte(testSecret)
	c, err := NewTokenCodec(TokenConfig{Secret: secret})
	require.NoError(t, err)
	assert.Equal(t, DefaultAccessTokenTTL, c.TTL())

	token, err := c.Issue(9)
	require.NoError(t, err)
	secret[0] = 'X'
	_, err = c.Decode(token)
	assert.NoError(t, err, "codec must not alias the caller's secret")
}
