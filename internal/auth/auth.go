// Package auth resolves request credentials into a model.Principal and checks
// role requirements.
//
// Bearer tokens are Ed25519-signed (EdDSA) JWTs. Keys can be loaded from PEM
// files or auto-generated for development. API keys are matched against a
// configured allow-list.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ashita-ai/agentrelay/internal/model"
)

const (
	tokenIssuer   = "agentrelay"
	tokenAudience = "agentrelay"
)

// Claims extends jwt.RegisteredClaims with the caller's role. The principal id
// travels in the standard subject claim.
type Claims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
}

// TokenVerifier turns a bearer token into a Principal.
type TokenVerifier interface {
	VerifyToken(token string) (model.Principal, error)
}

// JWTManager handles JWT creation and validation using Ed25519.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expiration time.Duration
	now        func() time.Time
}

// NewJWTManager creates a JWTManager from PEM key files.
// If paths are empty, generates an ephemeral key pair (for development).
func NewJWTManager(privateKeyPath, publicKeyPath string, expiration time.Duration) (*JWTManager, error) {
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no JWT key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &JWTManager{privateKey: priv, publicKey: pub, expiration: expiration, now: time.Now}, nil
	}

	privPEM, err := os.ReadFile(privateKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("auth: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("auth: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not Ed25519")
	}

	// A private key from one environment deployed with another's public key
	// would sign tokens nothing can verify.
	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("auth: public key does not match private key")
	}

	return &JWTManager{privateKey: edPriv, publicKey: edPub, expiration: expiration, now: time.Now}, nil
}

// IssueToken creates a signed JWT for the principal id and role. A ttl of zero
// uses the manager's configured expiration.
func (m *JWTManager) IssueToken(id string, role model.Role, ttl time.Duration) (string, time.Time, error) {
	if id == "" {
		return "", time.Time{}, fmt.Errorf("auth: issue token: empty subject")
	}
	if role == "" {
		return "", time.Time{}, fmt.Errorf("auth: issue token: empty role")
	}
	if ttl <= 0 {
		ttl = m.expiration
	}

	now := m.now().UTC()
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	if claims.Issuer != tokenIssuer {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("auth: invalid subject: empty")
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("auth: missing role claim")
	}

	return claims, nil
}

// VerifyToken implements TokenVerifier.
func (m *JWTManager) VerifyToken(tokenStr string) (model.Principal, error) {
	claims, err := m.ValidateToken(tokenStr)
	if err != nil {
		return model.Principal{}, err
	}
	return model.Principal{
		ID:         claims.Subject,
		Role:       claims.Role,
		AuthMethod: model.AuthToken,
	}, nil
}

// SetClock replaces the time source. Tests use it to mint expired tokens.
func (m *JWTManager) SetClock(now func() time.Time) {
	m.now = now
}

// Authorize passes when roles is empty or when p carries one of them. A
// principal without a role never satisfies a non-empty requirement.
func Authorize(p model.Principal, roles ...model.Role) error {
	if len(roles) == 0 {
		return nil
	}
	if p.Role != "" {
		for _, r := range roles {
			if p.Role == r {
				return nil
			}
		}
	}
	return model.NewError(model.KindForbidden, model.ReasonInsufficientRole, "insufficient permissions")
}
