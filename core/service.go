// Package core owns the Tab/Space/Group registry and its suspension policy.
// All cross-component access to registry state goes through Service methods;
// lifecycle changes are announced on the event bus.
package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vela/eventbus"
	"pkt.systems/vela/internal/logx"
	"pkt.systems/vela/internal/persist"
	"pkt.systems/vela/schema"
)

const eventSource = "registry"

// Service is the registry for tabs, groups and spaces.
type Service struct {
	cfg        schema.ServiceConfig
	engine     BrowserEngine
	security   Security
	supervisor Supervisor
	bus        *eventbus.Bus
	store      *persist.Store
	log        pslog.Logger
	now        func() time.Time

	mu         sync.Mutex
	tabs       map[schema.TabID]*tab
	groups     map[schema.GroupID]*group
	spaces     map[schema.SpaceID]*space
	spaceOrder []schema.SpaceID
	active     schema.SpaceID
}

// NewService constructs the registry with a default space already active.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (*Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &Service{
		cfg:        cfg,
		engine:     deps.Engine,
		security:   deps.Security,
		supervisor: deps.Supervisor,
		bus:        deps.Bus,
		store:      deps.Store,
		log:        logger,
		now:        time.Now,
		tabs:       make(map[schema.TabID]*tab),
		groups:     make(map[schema.GroupID]*group),
		spaces:     make(map[schema.SpaceID]*space),
	}
	def := &space{
		ID:   schema.SpaceID(newID("space")),
		Name: cfg.DefaultSpaceName,
		Settings: schema.SpaceSettings{
			Theme:       cfg.DefaultTheme,
			Layout:      cfg.DefaultLayout,
			AutoSuspend: true,
		},
		CreatedAt: s.now(),
	}
	s.spaces[def.ID] = def
	s.spaceOrder = append(s.spaceOrder, def.ID)
	s.active = def.ID
	return s, nil
}

// CreateTabRequest carries options for CreateTab.
type CreateTabRequest struct {
	URL        string
	SpaceID    schema.SpaceID
	GroupID    schema.GroupID
	Background bool
	Pinned     bool
}

// CreateTab opens a new tab in Loading status. The space defaults to the
// active space; a group, if given, must belong to the same space.
func (s *Service) CreateTab(ctx context.Context, req CreateTabRequest) (schema.Tab, error) {
	url, err := schema.NormalizeURL(req.URL)
	if err != nil {
		return schema.Tab{}, err
	}

	s.mu.Lock()
	spaceID := req.SpaceID
	if spaceID == "" {
		spaceID = s.active
	}
	sp := s.spaces[spaceID]
	if sp == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrSpaceNotFound
	}
	if req.GroupID != "" {
		grp := s.groups[req.GroupID]
		if grp == nil {
			s.mu.Unlock()
			return schema.Tab{}, schema.ErrGroupNotFound
		}
		if grp.SpaceID != spaceID {
			s.mu.Unlock()
			return schema.Tab{}, fmt.Errorf("%w: group belongs to another space", schema.ErrInvalidReference)
		}
	}
	now := s.now()
	t := &tab{
		ID:          schema.TabID(newID("tab")),
		URL:         url,
		Status:      schema.TabStatusLoading,
		SpaceID:     spaceID,
		GroupID:     req.GroupID,
		Pinned:      req.Pinned,
		LastActive:  now,
		AccessCount: 1,
		MemoryBytes: s.cfg.TabMemoryBytes,
		history:     newStateHistory(s.cfg.HistoryMax),
	}
	t.record(now)
	s.tabs[t.ID] = t
	sp.order = append(sp.order, t.ID)
	if !req.Background || sp.activeTab == "" {
		sp.activeTab = t.ID
	}
	snapshot := t.Snapshot(sp.activeTab == t.ID)
	s.mu.Unlock()

	log := logx.WithTab(ctx, spaceID, t.ID)
	s.emit(schema.NewEvent(schema.EventTabCreated, eventSource, map[string]any{
		"tab":   string(t.ID),
		"space": string(spaceID),
		"url":   url,
	}))
	s.startProcess(ctx, t.ID)
	s.beginNavigation(ctx, t.ID, url, true)
	log.Info("tab created", "url", url, "background", req.Background)
	return snapshot, nil
}

// DestroyTab removes the tab and announces it. Destroying an absent tab is a
// no-op so racing cleanup calls stay quiet; one TAB_DESTROYED is emitted per
// tab lifetime.
func (s *Service) DestroyTab(ctx context.Context, tabID schema.TabID) error {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return nil
	}
	delete(s.tabs, tabID)
	sp := s.spaces[t.SpaceID]
	if sp != nil {
		sp.order = removeTabID(sp.order, tabID)
		if sp.activeTab == tabID {
			sp.activeTab = ""
			if len(sp.order) > 0 {
				sp.activeTab = sp.order[0]
			}
		}
	}
	handle := t.Engine
	spaceID := t.SpaceID
	s.mu.Unlock()

	log := logx.WithTab(ctx, spaceID, tabID)
	s.emit(schema.NewEvent(schema.EventTabDestroyed, eventSource, map[string]any{
		"tab":   string(tabID),
		"space": string(spaceID),
	}))
	s.stopProcess(ctx, tabID)
	if s.engine != nil && handle != "" {
		go func() {
			if err := s.engine.DestroyTab(context.Background(), handle); err != nil {
				log.Warn("engine tab destroy failed", "err", err)
			}
		}()
	}
	log.Info("tab destroyed")
	return nil
}

// NavigateTab points the tab at a new URL and drives it through
// Loading -> Complete or Error.
func (s *Service) NavigateTab(ctx context.Context, tabID schema.TabID, url string) (schema.Tab, error) {
	normalized, err := schema.NormalizeURL(url)
	if err != nil {
		return schema.Tab{}, err
	}
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrTabNotFound
	}
	if t.Suspended {
		s.mu.Unlock()
		return schema.Tab{}, fmt.Errorf("%w: tab is suspended", schema.ErrInvalidOperation)
	}
	now := s.now()
	t.URL = normalized
	t.Status = schema.TabStatusLoading
	t.LastActive = now
	t.AccessCount++
	t.record(now)
	sp := s.spaces[t.SpaceID]
	active := sp != nil && sp.activeTab == tabID
	snapshot := t.Snapshot(active)
	spaceID := t.SpaceID
	s.mu.Unlock()

	log := logx.WithTab(ctx, spaceID, tabID)
	s.emit(schema.NewEvent(schema.EventTabNavigated, eventSource, map[string]any{
		"tab":   string(tabID),
		"space": string(spaceID),
		"url":   normalized,
	}))
	s.beginNavigation(ctx, tabID, normalized, false)
	log.Info("tab navigation started", "url", normalized)
	return snapshot, nil
}

// beginNavigation completes the Loading transition. Without an engine the
// transition is synchronous; with one it follows the engine's answer. create
// marks a navigation already issued through engine.CreateTab.
func (s *Service) beginNavigation(ctx context.Context, tabID schema.TabID, url string, create bool) {
	if s.engine == nil {
		s.finishNavigation(ctx, tabID, url, PageInfo{Title: titleFromURL(url)}, nil)
		return
	}
	go func() {
		engineCtx := context.Background()
		var info PageInfo
		var err error
		if create {
			var handle EngineHandle
			handle, err = s.engine.CreateTab(engineCtx, url)
			if err == nil {
				s.mu.Lock()
				if t := s.tabs[tabID]; t != nil {
					t.Engine = handle
				}
				s.mu.Unlock()
				info, err = s.engine.NavigateTab(engineCtx, handle, url)
			}
		} else {
			s.mu.Lock()
			handle := EngineHandle("")
			if t := s.tabs[tabID]; t != nil {
				handle = t.Engine
			}
			s.mu.Unlock()
			if handle == "" {
				info = PageInfo{Title: titleFromURL(url)}
			} else {
				info, err = s.engine.NavigateTab(engineCtx, handle, url)
			}
		}
		s.finishNavigation(ctx, tabID, url, info, err)
	}()
}

// finishNavigation tolerates callbacks arriving after the tab is gone or has
// navigated elsewhere; both are silent no-ops.
func (s *Service) finishNavigation(ctx context.Context, tabID schema.TabID, url string, info PageInfo, navErr error) {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil || t.URL != url || t.Status != schema.TabStatusLoading {
		s.mu.Unlock()
		return
	}
	now := s.now()
	eventType := schema.EventTabLoaded
	if navErr != nil {
		t.Status = schema.TabStatusError
		eventType = schema.EventTabError
	} else {
		t.Status = schema.TabStatusComplete
		if info.Title != "" {
			t.Title = info.Title
		}
		if info.Favicon != "" {
			t.Favicon = info.Favicon
		}
	}
	t.record(now)
	spaceID := t.SpaceID
	title := t.Title
	s.mu.Unlock()

	log := logx.WithTab(ctx, spaceID, tabID)
	payload := map[string]any{
		"tab":   string(tabID),
		"space": string(spaceID),
		"url":   url,
		"title": title,
	}
	event := schema.NewEvent(eventType, eventSource, payload)
	if navErr != nil {
		payload["error"] = navErr.Error()
		event.Priority = schema.PriorityHigh
		log.Warn("tab navigation failed", "url", url, "err", navErr)
	} else {
		log.Debug("tab loaded", "url", url)
	}
	s.emit(event)
	if navErr == nil {
		s.scanContent(ctx, tabID, url)
	}
}

// scanContent runs the security framework over freshly loaded page content
// and folds the rating into the tab's metadata. Best-effort: failures are
// logged and the tab keeps its previous rating.
func (s *Service) scanContent(ctx context.Context, tabID schema.TabID, url string) {
	if s.security == nil || s.engine == nil {
		return
	}
	s.mu.Lock()
	t := s.tabs[tabID]
	var handle EngineHandle
	var spaceID schema.SpaceID
	if t != nil {
		handle = t.Engine
		spaceID = t.SpaceID
	}
	s.mu.Unlock()
	if t == nil || handle == "" {
		return
	}
	go func() {
		log := logx.WithTab(ctx, spaceID, tabID)
		scanCtx := context.Background()
		content, err := s.engine.ExtractContent(scanCtx, handle, ExtractOptions{})
		if err != nil {
			log.Debug("content extraction failed", "err", err)
			return
		}
		report, err := s.security.ScanForThreats(scanCtx, content.Text)
		if err != nil {
			log.Debug("threat scan failed", "err", err)
			return
		}
		rating := 1 - report.Score
		s.mu.Lock()
		t := s.tabs[tabID]
		if t == nil || t.URL != url {
			s.mu.Unlock()
			return
		}
		t.Metadata.SecurityRating = rating
		s.mu.Unlock()
		if len(report.Threats) > 0 {
			log.Warn("threats detected", "url", url, "threats", report.Threats, "rating", rating)
		} else {
			log.Debug("content scanned", "rating", rating)
		}
	}()
}

// ActivateTab makes the tab active within its space.
func (s *Service) ActivateTab(ctx context.Context, tabID schema.TabID) (schema.Tab, error) {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrTabNotFound
	}
	sp := s.spaces[t.SpaceID]
	if sp != nil {
		sp.activeTab = tabID
	}
	now := s.now()
	t.LastActive = now
	t.AccessCount++
	snapshot := t.Snapshot(true)
	spaceID := t.SpaceID
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventTabActivated, eventSource, map[string]any{
		"tab":   string(tabID),
		"space": string(spaceID),
	}))
	logx.WithTab(ctx, spaceID, tabID).Debug("tab activated")
	return snapshot, nil
}

// PinTab toggles the pinned flag. Pinned tabs are never auto-suspended.
func (s *Service) PinTab(ctx context.Context, tabID schema.TabID, pinned bool) (schema.Tab, error) {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrTabNotFound
	}
	t.Pinned = pinned
	sp := s.spaces[t.SpaceID]
	snapshot := t.Snapshot(sp != nil && sp.activeTab == tabID)
	spaceID := t.SpaceID
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventTabUpdated, eventSource, map[string]any{
		"tab":    string(tabID),
		"space":  string(spaceID),
		"pinned": pinned,
	}))
	logx.WithTab(ctx, spaceID, tabID).Debug("tab pin updated", "pinned", pinned)
	return snapshot, nil
}

// UpdateTabMetadata replaces the enrichment record, the entry point for AI
// and security consumers feeding summaries and ratings back in.
func (s *Service) UpdateTabMetadata(ctx context.Context, tabID schema.TabID, metadata schema.TabMetadata) (schema.Tab, error) {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrTabNotFound
	}
	t.Metadata = metadata
	sp := s.spaces[t.SpaceID]
	snapshot := t.Snapshot(sp != nil && sp.activeTab == tabID)
	spaceID := t.SpaceID
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventTabUpdated, eventSource, map[string]any{
		"tab":   string(tabID),
		"space": string(spaceID),
	}))
	logx.WithTab(ctx, spaceID, tabID).Debug("tab metadata updated")
	return snapshot, nil
}

// SetTabTags replaces the tab's bookmark tags.
func (s *Service) SetTabTags(ctx context.Context, tabID schema.TabID, tags []string) (schema.Tab, error) {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrTabNotFound
	}
	t.Tags = append([]string(nil), tags...)
	sp := s.spaces[t.SpaceID]
	snapshot := t.Snapshot(sp != nil && sp.activeTab == tabID)
	spaceID := t.SpaceID
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventTabUpdated, eventSource, map[string]any{
		"tab":   string(tabID),
		"space": string(spaceID),
	}))
	logx.WithTab(ctx, spaceID, tabID).Debug("tab tags updated", "tags", len(tags))
	return snapshot, nil
}

// SuspendTab releases the tab's live resources, keeping a minimal restorable
// snapshot. Suspending a pinned or active tab requires force.
func (s *Service) SuspendTab(ctx context.Context, tabID schema.TabID, force bool) error {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return schema.ErrTabNotFound
	}
	if t.Suspended {
		s.mu.Unlock()
		return nil
	}
	sp := s.spaces[t.SpaceID]
	active := sp != nil && sp.activeTab == tabID
	if (t.Pinned || active) && !force {
		s.mu.Unlock()
		return fmt.Errorf("%w: tab is pinned or active", schema.ErrInvalidOperation)
	}
	now := s.now()
	t.Restore = &schema.TabRestorePoint{
		URL:      t.URL,
		Title:    t.Title,
		Metadata: t.Metadata,
	}
	t.Suspended = true
	t.Status = schema.TabStatusSuspended
	t.record(now)
	handle := t.Engine
	t.Engine = ""
	spaceID := t.SpaceID
	s.mu.Unlock()

	log := logx.WithTab(ctx, spaceID, tabID)
	s.emit(schema.NewEvent(schema.EventTabSuspended, eventSource, map[string]any{
		"tab":   string(tabID),
		"space": string(spaceID),
	}))
	if s.engine != nil && handle != "" {
		go func() {
			if err := s.engine.DestroyTab(context.Background(), handle); err != nil {
				log.Warn("engine tab release failed", "err", err)
			}
		}()
	}
	log.Info("tab suspended", "forced", force)
	return nil
}

// RestoreTab brings a suspended tab back from its restore point.
func (s *Service) RestoreTab(ctx context.Context, tabID schema.TabID) (schema.Tab, error) {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrTabNotFound
	}
	if !t.Suspended {
		sp := s.spaces[t.SpaceID]
		snapshot := t.Snapshot(sp != nil && sp.activeTab == tabID)
		s.mu.Unlock()
		return snapshot, nil
	}
	now := s.now()
	url := t.URL
	if t.Restore != nil {
		url = t.Restore.URL
		t.URL = url
		t.Title = t.Restore.Title
		t.Metadata = t.Restore.Metadata
	}
	t.Restore = nil
	t.Suspended = false
	t.Status = schema.TabStatusLoading
	t.LastActive = now
	t.AccessCount++
	t.record(now)
	sp := s.spaces[t.SpaceID]
	snapshot := t.Snapshot(sp != nil && sp.activeTab == tabID)
	spaceID := t.SpaceID
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventTabRestored, eventSource, map[string]any{
		"tab":   string(tabID),
		"space": string(spaceID),
		"url":   url,
	}))
	s.beginNavigation(ctx, tabID, url, s.engine != nil)
	logx.WithTab(ctx, spaceID, tabID).Info("tab restored", "url", url)
	return snapshot, nil
}

// GetTab returns a snapshot of the tab.
func (s *Service) GetTab(tabID schema.TabID) (schema.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tabs[tabID]
	if t == nil {
		return schema.Tab{}, schema.ErrTabNotFound
	}
	sp := s.spaces[t.SpaceID]
	return t.Snapshot(sp != nil && sp.activeTab == t.ID), nil
}

// TabHistory returns the tab's bounded state history, oldest first.
func (s *Service) TabHistory(tabID schema.TabID) ([]schema.TabStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tabs[tabID]
	if t == nil {
		return nil, schema.ErrTabNotFound
	}
	return t.history.Entries(), nil
}

// ListTabs returns tabs in a space in tab order, or across all spaces when
// spaceID is empty.
func (s *Service) ListTabs(spaceID schema.SpaceID) ([]schema.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spaceID != "" {
		sp := s.spaces[spaceID]
		if sp == nil {
			return nil, schema.ErrSpaceNotFound
		}
		return s.tabsForLocked(sp), nil
	}
	var out []schema.Tab
	for _, id := range s.spaceOrder {
		if sp := s.spaces[id]; sp != nil {
			out = append(out, s.tabsForLocked(sp)...)
		}
	}
	return out, nil
}

func (s *Service) tabsForLocked(sp *space) []schema.Tab {
	out := make([]schema.Tab, 0, len(sp.order))
	for _, id := range sp.order {
		t := s.tabs[id]
		if t == nil {
			continue
		}
		out = append(out, t.Snapshot(sp.activeTab == id))
	}
	return out
}

// TabExists reports whether the tab is currently live.
func (s *Service) TabExists(tabID schema.TabID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabs[tabID] != nil
}

// LiveTabIDs returns all live tab ids in space, then tab, order.
func (s *Service) LiveTabIDs() []schema.TabID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.TabID, 0, len(s.tabs))
	for _, spaceID := range s.spaceOrder {
		sp := s.spaces[spaceID]
		if sp == nil {
			continue
		}
		for _, id := range sp.order {
			if s.tabs[id] != nil {
				out = append(out, id)
			}
		}
	}
	return out
}

func (s *Service) startProcess(ctx context.Context, tabID schema.TabID) {
	if s.supervisor == nil {
		return
	}
	if err := s.supervisor.StartProcess(ctx, tabID); err != nil {
		s.log.Warn("supervisor start failed", "tab", tabID, "err", err)
	}
}

func (s *Service) stopProcess(ctx context.Context, tabID schema.TabID) {
	if s.supervisor == nil {
		return
	}
	if err := s.supervisor.StopProcess(ctx, tabID); err != nil {
		s.log.Warn("supervisor stop failed", "tab", tabID, "err", err)
	}
}

func (s *Service) emit(event schema.BrowserEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event); err != nil {
		s.log.Warn("event publish failed", "type", event.Type, "err", err)
	}
}

func titleFromURL(url string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
