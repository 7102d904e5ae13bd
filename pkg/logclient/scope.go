package logclient

import "context"

// RequestScope carries per-request identity merged into every entry logged
// under the scoped context.
type RequestScope struct {
	TraceID string
	Path    string
	Method  string
}

// UserScope carries per-user identity merged into every entry logged under
// the scoped context.
type UserScope struct {
	UserID    string
	SessionID string
}

type requestScopeKey struct{}
type userScopeKey struct{}

// WithRequestScope attaches request identity to the context.
func WithRequestScope(ctx context.Context, scope RequestScope) context.Context {
	return context.WithValue(ctx, requestScopeKey{}, scope)
}

// WithUserScope attaches user identity to the context.
func WithUserScope(ctx context.Context, scope UserScope) context.Context {
	return context.WithValue(ctx, userScopeKey{}, scope)
}

func applyScopes(ctx context.Context, e *Entry) {
	if ctx == nil {
		return
	}
	if v := ctx.Value(requestScopeKey{}); v != nil {
		if rs, ok := v.(RequestScope); ok {
			if rs.TraceID != "" {
				e.TraceID = &rs.TraceID
			}
			if rs.Path != "" {
				e.Path = &rs.Path
			}
			if rs.Method != "" {
				e.Method = &rs.Method
			}
		}
	}
	if v := ctx.Value(userScopeKey{}); v != nil {
		if us, ok := v.(UserScope); ok {
			if us.UserID != "" {
				e.UserID = &us.UserID
			}
			if us.SessionID != "" {
				e.SessionID = &us.SessionID
			}
		}
	}
}
