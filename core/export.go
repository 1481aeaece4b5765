package core

import (
	"context"
	"fmt"
	"sort"

	"pkt.systems/vela/internal/logx"
	"pkt.systems/vela/schema"
)

// ExportSpace serializes a space with its groups and tabs into a portable
// snapshot. Ids are omitted; imports mint fresh ones.
func (s *Service) ExportSpace(spaceID schema.SpaceID) (schema.SpaceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.spaces[spaceID]
	if sp == nil {
		return schema.SpaceSnapshot{}, schema.ErrSpaceNotFound
	}
	snapshot := schema.SpaceSnapshot{
		Name:     sp.Name,
		Settings: sp.Settings,
	}
	groupNames := make(map[schema.GroupID]string)
	for _, grp := range s.groups {
		if grp.SpaceID != spaceID {
			continue
		}
		groupNames[grp.ID] = grp.Name
		snapshot.Groups = append(snapshot.Groups, schema.GroupExport{
			Name:      grp.Name,
			Color:     grp.Color,
			Collapsed: grp.Collapsed,
		})
	}
	sort.Slice(snapshot.Groups, func(i, j int) bool {
		return snapshot.Groups[i].Name < snapshot.Groups[j].Name
	})
	for _, id := range sp.order {
		t := s.tabs[id]
		if t == nil {
			continue
		}
		snapshot.Tabs = append(snapshot.Tabs, schema.TabExport{
			URL:         t.URL,
			Title:       t.Title,
			Favicon:     t.Favicon,
			GroupName:   groupNames[t.GroupID],
			Pinned:      t.Pinned,
			Tags:        append([]string(nil), t.Tags...),
			Metadata:    t.Metadata,
			MemoryBytes: t.MemoryBytes,
		})
	}
	return snapshot, nil
}

// ImportSpace recreates a space from a snapshot. Every entity gets a fresh
// id and every reference is re-validated, so a snapshot can never smuggle in
// a dangling group or foreign tab.
func (s *Service) ImportSpace(ctx context.Context, snapshot schema.SpaceSnapshot) (schema.Space, error) {
	name, err := schema.NormalizeSpaceName(snapshot.Name)
	if err != nil {
		return schema.Space{}, err
	}
	settings := snapshot.Settings
	if settings.Theme == "" {
		settings.Theme = s.cfg.DefaultTheme
	}
	if settings.Layout == "" {
		settings.Layout = s.cfg.DefaultLayout
	}

	type importedTab struct {
		tab     *tab
		created schema.BrowserEvent
	}
	s.mu.Lock()
	now := s.now()
	sp := &space{
		ID:        schema.SpaceID(newID("space")),
		Name:      name,
		Settings:  settings,
		CreatedAt: now,
	}
	s.spaces[sp.ID] = sp
	s.spaceOrder = append(s.spaceOrder, sp.ID)

	groupIDs := make(map[string]schema.GroupID, len(snapshot.Groups))
	for _, ge := range snapshot.Groups {
		if ge.Name == "" {
			continue
		}
		grp := &group{
			ID:        schema.GroupID(newID("group")),
			SpaceID:   sp.ID,
			Name:      ge.Name,
			Color:     ge.Color,
			Collapsed: ge.Collapsed,
		}
		s.groups[grp.ID] = grp
		groupIDs[ge.Name] = grp.ID
	}

	var imported []importedTab
	for _, te := range snapshot.Tabs {
		url, err := schema.NormalizeURL(te.URL)
		if err != nil {
			continue
		}
		memory := te.MemoryBytes
		if memory <= 0 {
			memory = s.cfg.TabMemoryBytes
		}
		t := &tab{
			ID:          schema.TabID(newID("tab")),
			URL:         url,
			Title:       te.Title,
			Favicon:     te.Favicon,
			Status:      schema.TabStatusSuspended,
			SpaceID:     sp.ID,
			GroupID:     groupIDs[te.GroupName],
			Suspended:   true,
			Pinned:      te.Pinned,
			LastActive:  now,
			MemoryBytes: memory,
			Tags:        append([]string(nil), te.Tags...),
			Metadata:    te.Metadata,
			Restore: &schema.TabRestorePoint{
				URL:      url,
				Title:    te.Title,
				Metadata: te.Metadata,
			},
			history: newStateHistory(s.cfg.HistoryMax),
		}
		t.record(now)
		s.tabs[t.ID] = t
		sp.order = append(sp.order, t.ID)
		imported = append(imported, importedTab{
			tab: t,
			created: schema.NewEvent(schema.EventTabCreated, eventSource, map[string]any{
				"tab":      string(t.ID),
				"space":    string(sp.ID),
				"url":      url,
				"imported": true,
			}),
		})
	}
	result := sp.Snapshot(false)
	s.mu.Unlock()

	s.emit(schema.NewEvent(schema.EventSpaceImported, eventSource, map[string]any{
		"space": string(sp.ID),
		"name":  name,
		"tabs":  len(imported),
	}))
	for _, it := range imported {
		s.emit(it.created)
	}
	logx.WithSpace(ctx, sp.ID).Info("space imported", "name", name, "tabs", len(imported), "groups", len(groupIDs))
	return result, nil
}

// SaveSpace exports the space and writes it through the persist store.
func (s *Service) SaveSpace(ctx context.Context, spaceID schema.SpaceID) error {
	if s.store == nil {
		return fmt.Errorf("%w: no snapshot store configured", schema.ErrInvalidOperation)
	}
	snapshot, err := s.ExportSpace(spaceID)
	if err != nil {
		return err
	}
	if err := s.store.Save(snapshot.Name, snapshot); err != nil {
		return fmt.Errorf("save space %s: %w", snapshot.Name, err)
	}
	logx.WithSpace(ctx, spaceID).Info("space saved", "name", snapshot.Name)
	return nil
}

// LoadSpace reads a saved snapshot by name and imports it as a new space.
func (s *Service) LoadSpace(ctx context.Context, name string) (schema.Space, error) {
	if s.store == nil {
		return schema.Space{}, fmt.Errorf("%w: no snapshot store configured", schema.ErrInvalidOperation)
	}
	snapshot, found, err := s.store.Load(name)
	if err != nil {
		return schema.Space{}, fmt.Errorf("load space %s: %w", name, err)
	}
	if !found {
		return schema.Space{}, schema.ErrSpaceNotFound
	}
	return s.ImportSpace(ctx, snapshot)
}
