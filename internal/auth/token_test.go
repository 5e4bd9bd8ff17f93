package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/nameflow/internal/workflow"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	iss := NewIssuer(secret, "nameflow", time.Hour)
	actor := workflow.Actor{ID: "rita", Role: workflow.RoleReviewer}

	token, err := iss.Issue(actor)
	require.NoError(t, err)

	got, err := iss.Verify(token)
	require.NoError(t, err)
	require.Equal(t, actor, got)
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	iss := NewIssuer(secret, "nameflow", time.Hour)
	_, err := iss.Issue(workflow.Actor{ID: "x", Role: "guest"})
	require.Error(t, err)
	_, err = iss.Issue(workflow.Actor{Role: workflow.RoleAdmin})
	require.Error(t, err)
}

func TestVerifyRejects(t *testing.T) {
	iss := NewIssuer(secret, "nameflow", time.Hour)
	good, err := iss.Issue(workflow.Actor{ID: "ada", Role: workflow.RoleAdmin})
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := iss.Verify("")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewIssuer("ffffffffffffffffffffffffffffffff", "nameflow", time.Hour)
		_, err := other.Verify(good)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewIssuer(secret, "someone-else", time.Hour)
		_, err := other.Verify(good)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewIssuer(secret, "nameflow", time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		stale, err := past.Issue(workflow.Actor{ID: "ada", Role: workflow.RoleAdmin})
		require.NoError(t, err)
		_, err = iss.Verify(stale)
		require.ErrorIs(t, err, ErrInvalidToken)
		require.ErrorContains(t, err, "token is expired")
	})

	t.Run("unknown role claim", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "nameflow",
				Subject:   "x",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Role: "superuser",
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		_, err = iss.Verify(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "nameflow", Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
			Role:             "admin",
		})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Verify(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestIssueErrorNamesActor(t *testing.T) {
	iss := NewIssuer(secret, "nameflow", time.Hour)
	_, err := iss.Issue(workflow.Actor{ID: "x", Role: "guest"})
	require.EqualError(t, err, `cannot issue token for user "x" with role "guest"`)
}

func TestBearerToken(t *testing.T) {
	require.Equal(t, "abc", BearerToken("Bearer abc"))
	require.Equal(t, "abc", BearerToken("bearer  abc "))
	require.Empty(t, BearerToken("Basic abc"))
	require.Empty(t, BearerToken(""))
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFrom(context.Background())
	require.False(t, ok)

	actor := workflow.Actor{ID: "sam", Role: workflow.RoleSubmitter}
	got, ok := ActorFrom(WithActor(context.Background(), actor))
	require.True(t, ok)
	require.Equal(t, actor, got)
}
