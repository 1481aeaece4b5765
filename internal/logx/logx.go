// Package logx carries pslog annotation helpers shared by the core packages.
package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/vela/schema"
)

type contextKey int

const (
	spaceKey contextKey = iota
	tabKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSpace annotates the logger with the space id if present.
func WithSpace(ctx context.Context, spaceID schema.SpaceID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if spaceID != "" {
		if current, ok := ctx.Value(spaceKey).(schema.SpaceID); ok && current == spaceID {
			return log
		}
		log = log.With("space", spaceID)
	}
	return log
}

// WithTab annotates the logger with space and tab identifiers.
func WithTab(ctx context.Context, spaceID schema.SpaceID, tabID schema.TabID) pslog.Logger {
	log := WithSpace(ctx, spaceID)
	if tabID != "" {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
			return log
		}
		log = log.With("tab", tabID)
	}
	return log
}

// WithContextID annotates the logger with a shared context id when available.
func WithContextID(log pslog.Logger, contextID schema.ContextID) pslog.Logger {
	if contextID != "" {
		log = log.With("context", contextID)
	}
	return log
}

// ContextWithSpace stores the space marker on the context for log de-duplication.
func ContextWithSpace(ctx context.Context, spaceID schema.SpaceID) context.Context {
	if ctx == nil || spaceID == "" {
		return ctx
	}
	return context.WithValue(ctx, spaceKey, spaceID)
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil || tabID == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithLogger attaches the logger and markers to the context.
func ContextWithLogger(ctx context.Context, log pslog.Logger, spaceID schema.SpaceID, tabID schema.TabID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTab(ContextWithSpace(ctx, spaceID), tabID)
}
