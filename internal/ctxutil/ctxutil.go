// Package ctxutil provides shared context key accessors.
//
// The admission gate stores the resolved Principal here and the server's
// request ID middleware stores the request ID. The server, mcp and admission
// packages all read them without importing each other.
package ctxutil

import (
	"context"
	"sync"

	"github.com/ashita-ai/agentrelay/internal/model"
)

type contextKey string

const (
	keyPrincipal     contextKey = "principal"
	keyPrincipalSink contextKey = "principal_sink"
	keyRequestID     contextKey = "request_id"
)

type principalSink struct {
	mu sync.Mutex
	p  model.Principal
	ok bool
}

// WithPrincipal returns a new context carrying the given principal. If ctx
// descends from TrackPrincipal the principal is recorded there as well.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	if sink, ok := ctx.Value(keyPrincipalSink).(*principalSink); ok {
		sink.mu.Lock()
		sink.p, sink.ok = p, true
		sink.mu.Unlock()
	}
	return context.WithValue(ctx, keyPrincipal, p)
}

// PrincipalFromContext extracts the admitted principal from the context.
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(keyPrincipal).(model.Principal)
	return p, ok
}

// TrackPrincipal prepares ctx so middleware running before admission can
// learn, via AdmittedPrincipal, the principal admitted further down the chain.
func TrackPrincipal(ctx context.Context) context.Context {
	return context.WithValue(ctx, keyPrincipalSink, &principalSink{})
}

// AdmittedPrincipal reports the principal recorded by WithPrincipal anywhere
// below the TrackPrincipal call that produced ctx.
func AdmittedPrincipal(ctx context.Context) (model.Principal, bool) {
	sink, ok := ctx.Value(keyPrincipalSink).(*principalSink)
	if !ok {
		return model.Principal{}, false
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink.p, sink.ok
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
