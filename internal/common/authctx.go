package common

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const userIDKey ctxKey = "auth/user-id"

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// CurrentUser returns the authenticated user id as a UUID, or an
// Unauthorized AppError.
func CurrentUser(ctx context.Context) (uuid.UUID, error) {
	raw, ok := UserID(ctx)
	if !ok {
		return uuid.Nil, Unauthorized("")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, Unauthorized("invalid session")
	}
	return id, nil
}
