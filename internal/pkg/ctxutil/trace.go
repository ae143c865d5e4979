package ctxutil

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type traceDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(Default(ctx), traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// TraceID returns the request trace id, minting one when the context has none.
func TraceID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil && strings.TrimSpace(td.TraceID) != "" {
		return td.TraceID
	}
	return uuid.NewString()
}
