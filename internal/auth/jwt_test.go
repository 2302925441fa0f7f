package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/membership"
)

func testUser(admin bool) *membership.User {
	return &membership.User{ID: uuid.New(), Email: "ada@library.test", IsAdmin: admin}
}

func Test_Issue_Verify(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	u := testUser(true)

	token, err := issuer.Issue(u)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, u.Email, claims.Email)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "librarydesk", claims.Issuer)
}

func Test_Verify_Expired(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	start := time.Now()
	issuer.now = func() time.Time { return start }

	token, err := issuer.Issue(testUser(false))
	require.NoError(t, err)

	issuer.now = func() time.Time { return start.Add(2 * time.Hour) }
	_, err = issuer.Verify(token)
	require.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Equal(t, "token has expired", apperror.Message(err))
}

func Test_Verify_WrongSecret(t *testing.T) {
	token, err := NewIssuer("one-secret", time.Hour).Issue(testUser(false))
	require.NoError(t, err)

	_, err = NewIssuer("another-secret", time.Hour).Verify(token)
	require.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Equal(t, "invalid token", apperror.Message(err))
}

func Test_Verify_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewIssuer("test-secret", time.Hour).Verify(token)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewIssuer("test-secret", time.Hour).Verify(unsigned)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func Test_Verify_RequiresIssuerAndExpiry(t *testing.T) {
	secret := []byte("test-secret")
	issuer := NewIssuer(string(secret), time.Hour)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	require.NoError(t, err)
	_, err = issuer.Verify(foreign)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	eternal, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuerName},
	}).SignedString(secret)
	require.NoError(t, err)
	_, err = issuer.Verify(eternal)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func Test_Verify_Garbage(t *testing.T) {
	_, err := NewIssuer("test-secret", time.Hour).Verify("not.a.token")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}
