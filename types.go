package goRealtime

import (
	"context"
	"encoding/json"
)

// Well-known roles of the exam-scheduling tool.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Principal is the identity attached to a connection after a successful
// handshake.
//
//	Docs: docs/authentication.md
type Principal struct {
	SubjectID   string
	Role        string
	IsActive    bool
	DisplayName string
}

// IdentityStore resolves a token subject to the current principal record.
//
// Implementations must return [ErrPrincipalNotFound] (or an error wrapping
// it) for unknown subjects. Inactive principals are returned with
// IsActive=false rather than as an error. Lookups happen once per
// authentication attempt and once per token renewal; the engine never
// caches the result.
type IdentityStore interface {
	LookupPrincipal(ctx context.Context, subjectID string) (Principal, error)
}

// IdentityStoreFunc adapts a function to [IdentityStore].
type IdentityStoreFunc func(ctx context.Context, subjectID string) (Principal, error)

// LookupPrincipal calls f.
func (f IdentityStoreFunc) LookupPrincipal(ctx context.Context, subjectID string) (Principal, error) {
	return f(ctx, subjectID)
}

// Request is one privileged client message routed to a handler registered
// with [Engine.HandleEvent].
type Request struct {
	ConnID    string
	Principal Principal
	Event     string
	Data      json.RawMessage
}

// Bind decodes the request payload into out.
func (r Request) Bind(out any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}

// HandlerFunc handles a privileged client message. Returning an error that
// wraps [ErrPermissionDenied] answers the client with
// authorization_error{permission_denied}; other errors are logged.
type HandlerFunc func(ctx context.Context, req Request) error
