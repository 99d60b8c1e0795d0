package caseview

import (
	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// Apply computes the projection that follows ev. The input state is never
// modified. Unknown categories, and any event once the case is deleted,
// return the input state with no effects. A payload that cannot be decoded
// returns the input state and the decoding error.
func Apply(s State, ev helium.Event) (State, []Effect, error) {
	if s.Deleted {
		return s, nil, nil
	}

	switch ev.Category {
	case helium.CategorySubscribers:
		var p helium.SubscribersPayload
		if err := ev.DecodeExt(&p); err != nil {
			return s, nil, err
		}
		out := s.Clone()
		out.ActiveUsers = out.ActiveUsers[:0]
		for _, u := range p.Usernames {
			out.ActiveUsers = addUser(out.ActiveUsers, u)
		}
		return out, []Effect{render()}, nil

	case helium.CategorySubscribe:
		var p helium.SubscriptionPayload
		if err := ev.DecodeExt(&p); err != nil {
			return s, nil, err
		}
		out := s.Clone()
		out.ActiveUsers = addUser(out.ActiveUsers, p.Username)
		return out, []Effect{render()}, nil

	case helium.CategoryUnsubscribe:
		var p helium.SubscriptionPayload
		if err := ev.DecodeExt(&p); err != nil {
			return s, nil, err
		}
		out := s.Clone()
		users := out.ActiveUsers[:0]
		for _, u := range out.ActiveUsers {
			if u != p.Username {
				users = append(users, u)
			}
		}
		out.ActiveUsers = users
		return out, []Effect{render()}, nil

	case helium.CategoryImportCollector, helium.CategoryCreateCollector:
		var c helium.Collector
		if err := ev.DecodeExt(&c); err != nil {
			return s, nil, err
		}
		return AddCollector(s, c), []Effect{render()}, nil

	case helium.CategoryDeleteCollector:
		var p helium.GUIDPayload
		if err := ev.DecodeExt(&p); err != nil {
			return s, nil, err
		}
		out := s.Clone()
		kept := out.Collectors[:0]
		for _, c := range out.Collectors {
			if c.GUID != p.GUID {
				kept = append(kept, c)
			}
		}
		out.Collectors = kept
		return out, []Effect{
			toast(SeverityInfo, "A collector was deleted", "A collector was deleted"),
			render(),
		}, nil

	case helium.CategoryCreateCollection, helium.CategoryUpdateCollection:
		var c helium.Collection
		if err := ev.DecodeExt(&c); err != nil {
			return s, nil, err
		}
		return ReplaceCollection(s, c), []Effect{render()}, nil

	case helium.CategoryDeleteCollection:
		var p helium.GUIDPayload
		if err := ev.DecodeExt(&p); err != nil {
			return s, nil, err
		}
		out, tabClosed := deleteCollection(s, p.GUID)
		effects := []Effect{render()}
		if tabClosed && out.SelectedTab != "" {
			effects = append(effects, scrollTo(out.SelectedTab))
		}
		return out, effects, nil

	case helium.CategoryUpdateCase:
		meta, err := ev.CaseMetadata()
		if err != nil {
			return s, nil, err
		}
		return SetCase(s, meta), []Effect{render()}, nil

	case helium.CategoryDeleteCase:
		out := s.Clone()
		out.Deleted = true
		return out, []Effect{
			toast(SeverityInfo, "Case deleted", "This case was deleted"),
			navigateAway(),
			render(),
		}, nil

	case helium.CategoryCreateAnalysis:
		var p helium.AnalysisPayload
		if err := ev.DecodeExt(&p); err != nil {
			return s, nil, err
		}
		if !s.AnalysesLoaded(p.Collection.GUID) {
			return s, nil, nil
		}
		return SetAnalysis(s, p.Collection.GUID, p.Analysis), []Effect{render()}, nil

	case helium.CategoryDeleteAnalysis:
		var p helium.GUIDPayload
		if err := ev.DecodeExt(&p); err != nil {
			return s, nil, err
		}
		out := s.Clone()
		for _, byAnalyzer := range out.Analyses {
			for name, a := range byAnalyzer {
				if a.GUID == p.GUID {
					delete(byAnalyzer, name)
				}
			}
		}
		return out, []Effect{render()}, nil
	}

	status, ok := helium.AnalysisStatusFromCategory(ev.Category)
	if !ok {
		return s, nil, nil
	}
	var p helium.AnalysisPayload
	if err := ev.DecodeExt(&p); err != nil {
		return s, nil, err
	}
	if !s.AnalysesLoaded(p.Collection.GUID) {
		return s, nil, nil
	}
	a := p.Analysis
	a.Status = status
	return SetAnalysis(s, p.Collection.GUID, a), []Effect{render()}, nil
}

// deleteCollection drops a collection from the list and the tabs. When the
// selected tab goes away the first remaining tab is selected.
func deleteCollection(s State, guid string) (State, bool) {
	out := s.Clone()
	kept := out.Collections[:0]
	for _, c := range out.Collections {
		if c.GUID != guid {
			kept = append(kept, c)
		}
	}
	out.Collections = kept

	idx := out.TabIndex(guid)
	if idx < 0 {
		return out, false
	}
	out.Tabs = append(out.Tabs[:idx], out.Tabs[idx+1:]...)
	if out.SelectedTab == guid {
		out.SelectedTab = ""
		if len(out.Tabs) > 0 {
			out.SelectedTab = out.Tabs[0].GUID
		}
	}
	return out, true
}

func addUser(users []string, name string) []string {
	for _, u := range users {
		if u == name {
			return users
		}
	}
	return append(users, name)
}
