// Package auditcontext carries request metadata that audit entries attach
// without every caller threading it explicitly.
package auditcontext

import (
	"context"
	"strings"
)

type key int

const (
	requestIDKey key = iota
	ipAddressKey
	userAgentKey
	actorKey
)

type actorValue struct {
	actorType string
	actorID   string
}

func WithRequestID(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(value))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func WithIPAddress(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, ipAddressKey, strings.TrimSpace(value))
}

func IPAddressFromContext(ctx context.Context) string {
	return stringValue(ctx, ipAddressKey)
}

func WithUserAgent(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, userAgentKey, strings.TrimSpace(value))
}

func UserAgentFromContext(ctx context.Context) string {
	return stringValue(ctx, userAgentKey)
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorValue{
		actorType: strings.TrimSpace(actorType),
		actorID:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey).(actorValue)
	if !ok {
		return "", ""
	}
	return value.actorType, value.actorID
}

func stringValue(ctx context.Context, k key) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(k).(string)
	return value
}
