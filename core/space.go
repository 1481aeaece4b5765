package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pkt.systems/vela/internal/logx"
	"pkt.systems/vela/schema"
)

// CreateSpace adds a new space. Names are normalized; duplicates are allowed
// since spaces are identified by id.
func (s *Service) CreateSpace(ctx context.Context, name string, settings schema.SpaceSettings) (schema.Space, error) {
	normalized, err := schema.NormalizeSpaceName(name)
	if err != nil {
		return schema.Space{}, err
	}
	if settings.Theme == "" {
		settings.Theme = s.cfg.DefaultTheme
	}
	if settings.Layout == "" {
		settings.Layout = s.cfg.DefaultLayout
	}
	s.mu.Lock()
	sp := &space{
		ID:        schema.SpaceID(newID("space")),
		Name:      normalized,
		Settings:  settings,
		CreatedAt: s.now(),
	}
	s.spaces[sp.ID] = sp
	s.spaceOrder = append(s.spaceOrder, sp.ID)
	snapshot := sp.Snapshot(false)
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventSpaceCreated, eventSource, map[string]any{
		"space": string(sp.ID),
		"name":  normalized,
	}))
	logx.WithSpace(ctx, sp.ID).Info("space created", "name", normalized)
	return snapshot, nil
}

// SetActiveSpace switches the active space. Exactly one space is active at a
// time.
func (s *Service) SetActiveSpace(ctx context.Context, spaceID schema.SpaceID) (schema.Space, error) {
	s.mu.Lock()
	sp := s.spaces[spaceID]
	if sp == nil {
		s.mu.Unlock()
		return schema.Space{}, schema.ErrSpaceNotFound
	}
	s.active = spaceID
	snapshot := sp.Snapshot(true)
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventSpaceActivated, eventSource, map[string]any{
		"space": string(spaceID),
	}))
	logx.WithSpace(ctx, spaceID).Info("space activated", "name", snapshot.Name)
	return snapshot, nil
}

// ActiveSpace returns the currently active space.
func (s *Service) ActiveSpace() schema.Space {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.spaces[s.active]
	if sp == nil {
		return schema.Space{}
	}
	return sp.Snapshot(true)
}

// GetSpace returns a snapshot of the space.
func (s *Service) GetSpace(spaceID schema.SpaceID) (schema.Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.spaces[spaceID]
	if sp == nil {
		return schema.Space{}, schema.ErrSpaceNotFound
	}
	return sp.Snapshot(s.active == spaceID), nil
}

// ListSpaces returns all spaces in creation order.
func (s *Service) ListSpaces() []schema.Space {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Space, 0, len(s.spaceOrder))
	for _, id := range s.spaceOrder {
		if sp := s.spaces[id]; sp != nil {
			out = append(out, sp.Snapshot(s.active == id))
		}
	}
	return out
}

// CreateGroup adds a tab group to a space.
func (s *Service) CreateGroup(ctx context.Context, spaceID schema.SpaceID, name, color string) (schema.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return schema.Group{}, fmt.Errorf("%w: group name is empty", schema.ErrInvalidRequest)
	}
	s.mu.Lock()
	if s.spaces[spaceID] == nil {
		s.mu.Unlock()
		return schema.Group{}, schema.ErrSpaceNotFound
	}
	grp := &group{
		ID:      schema.GroupID(newID("group")),
		SpaceID: spaceID,
		Name:    name,
		Color:   color,
	}
	s.groups[grp.ID] = grp
	snapshot := grp.Snapshot()
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventGroupCreated, eventSource, map[string]any{
		"group": string(grp.ID),
		"space": string(spaceID),
		"name":  name,
	}))
	logx.WithSpace(ctx, spaceID).Info("group created", "group", grp.ID, "name", name)
	return snapshot, nil
}

// DeleteGroup removes the group; member tabs become ungrouped but stay in
// their space.
func (s *Service) DeleteGroup(ctx context.Context, groupID schema.GroupID) error {
	s.mu.Lock()
	grp := s.groups[groupID]
	if grp == nil {
		s.mu.Unlock()
		return schema.ErrGroupNotFound
	}
	delete(s.groups, groupID)
	for _, t := range s.tabs {
		if t.GroupID == groupID {
			t.GroupID = ""
		}
	}
	spaceID := grp.SpaceID
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventGroupDeleted, eventSource, map[string]any{
		"group": string(groupID),
		"space": string(spaceID),
	}))
	logx.WithSpace(ctx, spaceID).Info("group deleted", "group", groupID)
	return nil
}

// SetGroupCollapsed toggles the group's collapsed presentation flag.
func (s *Service) SetGroupCollapsed(ctx context.Context, groupID schema.GroupID, collapsed bool) (schema.Group, error) {
	s.mu.Lock()
	grp := s.groups[groupID]
	if grp == nil {
		s.mu.Unlock()
		return schema.Group{}, schema.ErrGroupNotFound
	}
	grp.Collapsed = collapsed
	snapshot := grp.Snapshot()
	spaceID := grp.SpaceID
	s.mu.Unlock()

	logx.WithSpace(ctx, spaceID).Debug("group collapsed updated", "group", groupID, "collapsed", collapsed)
	return snapshot, nil
}

// ListGroups returns the groups in a space, ordered by name.
func (s *Service) ListGroups(spaceID schema.SpaceID) ([]schema.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spaces[spaceID] == nil {
		return nil, schema.ErrSpaceNotFound
	}
	var out []schema.Group
	for _, grp := range s.groups {
		if grp.SpaceID == spaceID {
			out = append(out, grp.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MoveTab moves a tab to another space and optionally into a group there. A
// group must belong to the destination space. The tab leaves its old space's
// order and joins the end of the new one, keeping the tab/space partition
// intact.
func (s *Service) MoveTab(ctx context.Context, tabID schema.TabID, spaceID schema.SpaceID, groupID schema.GroupID) (schema.Tab, error) {
	s.mu.Lock()
	t := s.tabs[tabID]
	if t == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrTabNotFound
	}
	dst := s.spaces[spaceID]
	if dst == nil {
		s.mu.Unlock()
		return schema.Tab{}, schema.ErrSpaceNotFound
	}
	if groupID != "" {
		grp := s.groups[groupID]
		if grp == nil {
			s.mu.Unlock()
			return schema.Tab{}, schema.ErrGroupNotFound
		}
		if grp.SpaceID != spaceID {
			s.mu.Unlock()
			return schema.Tab{}, fmt.Errorf("%w: group belongs to another space", schema.ErrInvalidReference)
		}
	}
	from := t.SpaceID
	if from != spaceID {
		if src := s.spaces[from]; src != nil {
			src.order = removeTabID(src.order, tabID)
			if src.activeTab == tabID {
				src.activeTab = ""
				if len(src.order) > 0 {
					src.activeTab = src.order[0]
				}
			}
		}
		dst.order = append(dst.order, tabID)
		if dst.activeTab == "" {
			dst.activeTab = tabID
		}
		t.SpaceID = spaceID
	}
	t.GroupID = groupID
	snapshot := t.Snapshot(dst.activeTab == tabID)
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventTabMoved, eventSource, map[string]any{
		"tab":   string(tabID),
		"from":  string(from),
		"space": string(spaceID),
		"group": string(groupID),
	}))
	logx.WithTab(ctx, spaceID, tabID).Info("tab moved", "from", from)
	return snapshot, nil
}
