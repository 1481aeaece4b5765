package core

import (
	"sort"
	"strings"
	"time"

	"pkt.systems/vela/schema"
)

// SearchCriteria selects tabs for SearchTabsAdvanced. All set fields are
// conjunctive.
type SearchCriteria struct {
	Text              string
	Topics            []string
	Tags              []string
	SpaceID           schema.SpaceID
	MinSecurityRating float64
	IncludeSuspended  bool
	Limit             int
}

// SearchResults iterates over matching tabs in relevance order. The iterator
// is lazy and not restartable; take a new search for a fresh pass.
type SearchResults struct {
	tabs []scoredTab
	next int
}

type scoredTab struct {
	tab   schema.Tab
	score float64
}

// Next returns the next result, or false when the results are exhausted.
func (r *SearchResults) Next() (schema.Tab, float64, bool) {
	if r == nil || r.next >= len(r.tabs) {
		return schema.Tab{}, 0, false
	}
	current := r.tabs[r.next]
	r.next++
	return current.tab, current.score, true
}

// Len reports how many results remain.
func (r *SearchResults) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tabs) - r.next
}

// SearchTabsAdvanced scores tabs against the criteria. Relevance blends text
// match, topic overlap, security rating and recency; ties rank the most
// recently active tab first.
func (s *Service) SearchTabsAdvanced(criteria SearchCriteria) *SearchResults {
	now := s.now()
	s.mu.Lock()
	candidates := make([]*tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		candidates = append(candidates, t)
	}
	scored := make([]scoredTab, 0, len(candidates))
	for _, t := range candidates {
		if criteria.SpaceID != "" && t.SpaceID != criteria.SpaceID {
			continue
		}
		if t.Suspended && !criteria.IncludeSuspended {
			continue
		}
		if t.Metadata.SecurityRating < criteria.MinSecurityRating {
			continue
		}
		if !matchesTags(t.Tags, criteria.Tags) {
			continue
		}
		score, ok := relevance(t, criteria, now)
		if !ok {
			continue
		}
		sp := s.spaces[t.SpaceID]
		scored = append(scored, scoredTab{
			tab:   t.Snapshot(sp != nil && sp.activeTab == t.ID),
			score: score,
		})
	}
	s.mu.Unlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].tab.LastActive > scored[j].tab.LastActive
	})
	if criteria.Limit > 0 && len(scored) > criteria.Limit {
		scored = scored[:criteria.Limit]
	}
	return &SearchResults{tabs: scored}
}

// relevance returns the composite score and whether the tab matches at all.
// Text and topic criteria are gating: a tab that matches neither a requested
// text nor a requested topic is excluded.
func relevance(t *tab, criteria SearchCriteria, now time.Time) (float64, bool) {
	var score float64
	text := strings.TrimSpace(strings.ToLower(criteria.Text))
	if text != "" {
		hits := 0.0
		if strings.Contains(strings.ToLower(t.Title), text) {
			hits += 2
		}
		if strings.Contains(strings.ToLower(t.URL), text) {
			hits += 1
		}
		if strings.Contains(strings.ToLower(t.Metadata.Summary), text) {
			hits += 1
		}
		if strings.Contains(strings.ToLower(t.Metadata.Description), text) {
			hits += 0.5
		}
		if hits == 0 {
			return 0, false
		}
		score += hits
	}
	if len(criteria.Topics) > 0 {
		overlap := 0.0
		for _, want := range criteria.Topics {
			for _, have := range t.Metadata.Topics {
				if strings.EqualFold(want, have) {
					overlap++
					break
				}
			}
		}
		if overlap == 0 {
			return 0, false
		}
		score += overlap
	}
	score += t.Metadata.SecurityRating
	idle := now.Sub(t.LastActive)
	if idle < 0 {
		idle = 0
	}
	// Recency decays linearly over a day; anything older contributes zero.
	if idle < 24*time.Hour {
		score += 1 - idle.Hours()/24
	}
	return score, true
}

func matchesTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
