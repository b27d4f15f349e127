package auditcontext

import "context"

type contextKey string

const (
	requestIDKey contextKey = "audit.request_id"
	ipAddressKey contextKey = "audit.ip_address"
	userAgentKey contextKey = "audit.user_agent"
	actorKey     contextKey = "audit.actor"
)

type actor struct {
	Type string
	ID   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	value, _ := ctx.Value(ipAddressKey).(string)
	return value
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey, ua)
}

func UserAgentFromContext(ctx context.Context) string {
	value, _ := ctx.Value(userAgentKey).(string)
	return value
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actor{Type: actorType, ID: actorID})
}

func ActorFromContext(ctx context.Context) (string, string) {
	value, ok := ctx.Value(actorKey).(actor)
	if !ok {
		return "", ""
	}
	return value.Type, value.ID
}
