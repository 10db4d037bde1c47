package types

import (
	"context"
)

// Context Keys
type contextKey string

const (
	actorKey     contextKey = "audit_actor"
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
	orgKey       contextKey = "organisation_id"
)

// WithActor stores the authenticated actor in the context. Engine mutations
// read it back to stamp audit entries.
func WithActor(ctx context.Context, actor AuditActor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the actor from the context.
func GetActor(ctx context.Context) (AuditActor, bool) {
	actor, ok := ctx.Value(actorKey).(AuditActor)
	return actor, ok
}

// ActorOrDefault returns the context actor, or fallback when none is set.
func ActorOrDefault(ctx context.Context, fallback AuditActor) AuditActor {
	if actor, ok := GetActor(ctx); ok {
		return actor
	}
	return fallback
}

// WithOrganisationID stores the caller's organisation scope.
func WithOrganisationID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey, orgID)
}

// GetOrganisationID returns the caller's organisation scope, or "" for
// callers that may act on any organisation (machine keys).
func GetOrganisationID(ctx context.Context) string {
	id, _ := ctx.Value(orgKey).(string)
	return id
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores a Logger in the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the Logger from the context.
// Returns nil if no logger has been set.
func LoggerFromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return nil
}

// CheckOrganisation rejects access to a record of orgID by a caller scoped
// to a different organisation. Unscoped callers pass.
func CheckOrganisation(ctx context.Context, orgID string) error {
	if caller := GetOrganisationID(ctx); caller != "" && caller != orgID {
		return NewAppError(ErrCodePermissionOrgMismatch, "record belongs to another organisation", nil)
	}
	return nil
}

// Principal is an authenticated caller: the actor stamped on audit entries
// and the organisation it is confined to ("" for machine callers).
type Principal struct {
	Actor          AuditActor
	OrganisationID string
}

// WithPrincipal stores both the actor and the organisation scope.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = WithActor(ctx, p.Actor)
	if p.OrganisationID != "" {
		ctx = WithOrganisationID(ctx, p.OrganisationID)
	}
	return ctx
}
