package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/vela/eventbus"
	"pkt.systems/vela/internal/persist"
	"pkt.systems/vela/schema"
)

// EngineHandle identifies a tab inside the browser engine.
type EngineHandle string

// PageInfo is what the engine reports after a navigation.
type PageInfo struct {
	Title   string
	Favicon string
}

// ExtractOptions controls content extraction.
type ExtractOptions struct {
	IncludeHTML bool
}

// PageContent is extracted page content for enrichment consumers.
type PageContent struct {
	Title string
	Text  string
	HTML  string
}

// BrowserEngine is the rendering collaborator. Engine failures surface as
// tab Error status, never as core-process fatal errors.
type BrowserEngine interface {
	CreateTab(ctx context.Context, url string) (EngineHandle, error)
	DestroyTab(ctx context.Context, handle EngineHandle) error
	NavigateTab(ctx context.Context, handle EngineHandle, url string) (PageInfo, error)
	ExtractContent(ctx context.Context, handle EngineHandle, opts ExtractOptions) (PageContent, error)
}

// PermissionContext describes a permission check for the security framework.
type PermissionContext struct {
	From       schema.TabID
	To         schema.TabID
	Capability schema.Capability
}

// ThreatReport summarizes a content scan.
type ThreatReport struct {
	Score   float64
	Threats []string
}

// Security is the security framework collaborator.
type Security interface {
	ValidatePermission(ctx context.Context, permission PermissionContext) bool
	ScanForThreats(ctx context.Context, content string) (ThreatReport, error)
}

// Supervisor manages per-tab isolated execution contexts. Consumed
// best-effort: supervisor failures are logged, not propagated.
type Supervisor interface {
	StartProcess(ctx context.Context, tabID schema.TabID) error
	StopProcess(ctx context.Context, tabID schema.TabID) error
}

// ServiceDeps captures optional dependencies for the registry service.
type ServiceDeps struct {
	Engine     BrowserEngine
	Security   Security
	Supervisor Supervisor
	Bus        *eventbus.Bus
	Store      *persist.Store
	Logger     pslog.Logger
}
