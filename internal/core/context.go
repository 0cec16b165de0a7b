package core

import "context"

type contextKey string

const (
	ctxKeyClientIP contextKey = "upload_ip"
	ctxKeyLanguage contextKey = "upload_lang"
)

// ContextWithClientIP adds the uploader's IP address to ctx for history records.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ClientIPFromContext extracts the uploader's IP address from ctx.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientIP).(string); ok {
		return v
	}
	return ""
}

// ContextWithLanguage stores the negotiated response language, e.g. "de".
func ContextWithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, ctxKeyLanguage, lang)
}

// LanguageFromContext returns the negotiated language, or "" for the default.
func LanguageFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyLanguage).(string); ok {
		return v
	}
	return ""
}
