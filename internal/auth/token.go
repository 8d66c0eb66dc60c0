package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
)

// Audience carried by user access tokens issued by GoTrue.
const Audience = "authenticated"

var ErrInvalidToken = errors.New("invalid access token")

// Claims mirrors the payload of a GoTrue access token.
type Claims struct {
	Email        string                 `json:"email,omitempty"`
	Role         string                 `json:"role,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	gojwt.RegisteredClaims
}

// Verifier checks HS256 access tokens against the project's JWT secret.
type Verifier struct {
	secret []byte
	parser *gojwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: gojwt.NewParser(
			gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
			gojwt.WithAudience(Audience),
			gojwt.WithExpirationRequired(),
		),
	}
}

// Verify parses the token and maps it to a session.
func (v *Verifier) Verify(token string) (*domain.Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*gojwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return sessionFromClaims(token, claims), nil
}

func sessionFromClaims(token string, c *Claims) *domain.Session {
	s := &domain.Session{
		AccessToken: token,
		UserID:      c.Subject,
		Email:       c.Email,
		Name:        domain.NameFromMetadata(c.UserMetadata),
		AvatarURL:   domain.AvatarFromMetadata(c.UserMetadata),
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

// ParseUnverified decodes the claims of a token whose signature is checked elsewhere
// (by GoTrue itself). Malformed or expired tokens are rejected.
func ParseUnverified(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	return claims, nil
}

// Identity is the user a dev token is minted for.
type Identity struct {
	UserID    string
	Email     string
	Name      string
	AvatarURL string
}

// Issuer mints GoTrue-shaped tokens. Used by the memory backend in place of a real provider.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint signs a token for id.
func (i *Issuer) Mint(id Identity) (string, error) {
	now := i.now()
	meta := map[string]interface{}{}
	if id.Name != "" {
		meta["full_name"] = id.Name
	}
	if id.AvatarURL != "" {
		meta["avatar_url"] = id.AvatarURL
	}

	claims := Claims{
		Email:        id.Email,
		Role:         Audience,
		SessionID:    ulid.Make().String(),
		UserMetadata: meta,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   id.UserID,
			Audience:  gojwt.ClaimStrings{Audience},
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(i.ttl)),
			ID:        ulid.Make().String(),
		},
	}

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenHash is a stable, non-reversible key for a token (revocation lists, logs).
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
