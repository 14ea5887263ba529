package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ashita-ai/agentrelay/internal/model"
)

// ErrNotApplicable is returned by a Strategy when the request does not carry
// its kind of credential.
var ErrNotApplicable = errors.New("auth: credential not present")

// Header names read by the built-in strategies.
const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
)

// Strategy resolves one kind of credential. It returns ErrNotApplicable when
// the credential is absent and a classified *model.Error when it is present
// but rejected.
type Strategy interface {
	Resolve(r *http.Request) (model.Principal, error)
}

// APIKeyStrategy authenticates the X-API-Key header against an allow-list.
type APIKeyStrategy struct {
	Keys *APIKeySet
}

// Resolve implements Strategy.
func (s APIKeyStrategy) Resolve(r *http.Request) (model.Principal, error) {
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		return model.Principal{}, ErrNotApplicable
	}
	if s.Keys == nil || !s.Keys.Contains(key) {
		return model.Principal{}, model.NewError(model.KindUnauthenticated, model.ReasonInvalidAPIKey, "invalid API key")
	}
	return model.Principal{
		ID:         APIKeyPrincipalID(key),
		AuthMethod: model.AuthAPIKey,
	}, nil
}

// BearerStrategy authenticates an "Authorization: Bearer <token>" header.
// Other authorization schemes are treated as absent.
type BearerStrategy struct {
	Verifier TokenVerifier
}

// Resolve implements Strategy.
func (s BearerStrategy) Resolve(r *http.Request) (model.Principal, error) {
	header := r.Header.Get(HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return model.Principal{}, ErrNotApplicable
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Principal{}, ErrNotApplicable
	}

	p, err := s.Verifier.VerifyToken(token)
	if err != nil {
		return model.Principal{}, &model.Error{
			Kind:    model.KindForbidden,
			Reason:  model.ReasonInvalidOrExpiredToken,
			Message: "invalid or expired token",
			Err:     err,
		}
	}
	return p, nil
}

// Resolver tries its strategies in order. The first one that applies decides
// the outcome, whether it accepts or rejects the credential.
type Resolver struct {
	strategies []Strategy
}

// NewResolver creates a Resolver over the given strategies.
func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve returns the request's Principal. When no strategy applies it fails
// with Unauthenticated/MissingCredential.
func (res *Resolver) Resolve(r *http.Request) (model.Principal, error) {
	for _, s := range res.strategies {
		p, err := s.Resolve(r)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if err != nil {
			return model.Principal{}, err
		}
		return p, nil
	}
	return model.Principal{}, model.NewError(model.KindUnauthenticated, model.ReasonMissingCredential, "access token required")
}
