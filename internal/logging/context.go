package logging

import (
	"context"

	"go.uber.org/zap"
)

type scanCtxKey struct{}
type articleCtxKey struct{}

// WithScanID attaches a scan id to the context. Every log entry under
// the returned context carries it.
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, scanCtxKey{}, scanID)
}

// ScanIDFromContext extracts the scan id, or "" if unset.
func ScanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(scanCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithArticle attaches an article identifier (URL or slug) to the context.
func WithArticle(ctx context.Context, article string) context.Context {
	return context.WithValue(ctx, articleCtxKey{}, article)
}

// ArticleFromContext extracts the article identifier, or "" if unset.
func ArticleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(articleCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if scanID := ScanIDFromContext(ctx); scanID != "" {
		fields = append(fields, zap.String("scan.id", scanID))
	}
	if article := ArticleFromContext(ctx); article != "" {
		fields = append(fields, zap.String("article", article))
	}
	return fields
}
