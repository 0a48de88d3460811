package httpapi

import "context"

type ctxKey int

const hostnameKey ctxKey = iota

func withHostname(ctx context.Context, hostname string) context.Context {
	return context.WithValue(ctx, hostnameKey, hostname)
}

func hostnameFrom(ctx context.Context) string {
	v, _ := ctx.Value(hostnameKey).(string)
	return v
}
