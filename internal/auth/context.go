package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
)

func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, a.ID)
	ctx = context.WithValue(ctx, ctxRole, a.Role)
	return ctx
}

// ActorFrom returns the authenticated actor, or ok=false for anonymous requests.
func ActorFrom(ctx context.Context) (Actor, bool) {
	id, err := UserID(ctx)
	if err != nil {
		return Actor{}, false
	}
	role, _ := Role(ctx)
	return Actor{ID: id, Role: role}, true
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
