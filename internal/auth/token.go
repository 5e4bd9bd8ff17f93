package auth

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tejzpr/nameflow/internal/workflow"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// claims is the JWT payload: sub carries the user id.
type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token for actor.
func (i *Issuer) Issue(actor workflow.Actor) (string, error) {
	if _, ok := workflow.ParseRole(string(actor.Role)); !ok || strings.TrimSpace(actor.ID) == "" {
		return "", errors.Errorf("cannot issue token for user %q with role %q", actor.ID, actor.Role)
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role: string(actor.Role),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the acting user.
func (i *Issuer) Verify(raw string) (workflow.Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return workflow.Actor{}, ErrInvalidToken
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return workflow.Actor{}, errors.Wrapf(ErrInvalidToken, "%v", err)
	}

	role, ok := workflow.ParseRole(parsed.Role)
	if !ok || parsed.Subject == "" {
		return workflow.Actor{}, errors.Wrap(ErrInvalidToken, "missing subject or role")
	}
	return workflow.Actor{ID: parsed.Subject, Role: role}, nil
}

type actorKey struct{}

func WithActor(ctx context.Context, actor workflow.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (workflow.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(workflow.Actor)
	return actor, ok
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
