package domain

import "context"

type cycleKey struct{}

// WithCycleID attaches the id of the running top-up cycle to ctx.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey{}, id)
}

// CycleID returns the cycle id carried by ctx, or an empty string.
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}
