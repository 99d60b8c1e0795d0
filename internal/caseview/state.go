// Package caseview keeps an in-memory projection of one Helium case in step
// with the case event stream and exposes the user commands of the case view.
package caseview

import (
	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// AnalysisMap is keyed by collection guid, then analyzer name. A collection
// without an entry has never had its analyses loaded.
type AnalysisMap map[string]map[string]helium.CollectionAnalysis

// State is the projection of a case view. Values returned by the reducer and
// the local transitions share nothing with their input.
type State struct {
	Case        helium.CaseMetadata
	Loaded      bool
	Deleted     bool
	Collectors  []helium.Collector
	Collections []helium.Collection
	Tabs        []helium.Collection
	SelectedTab string
	Analyses    AnalysisMap
	ActiveUsers []string
	DiskUsage   map[string]int64
	Analyzers   []helium.AnalyzerInfo
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	out.Collectors = append([]helium.Collector(nil), s.Collectors...)
	out.Collections = make([]helium.Collection, len(s.Collections))
	for i, c := range s.Collections {
		out.Collections[i] = cloneCollection(c)
	}
	out.Tabs = make([]helium.Collection, len(s.Tabs))
	for i, c := range s.Tabs {
		out.Tabs[i] = cloneCollection(c)
	}
	out.ActiveUsers = append([]string(nil), s.ActiveUsers...)
	out.Analyzers = append([]helium.AnalyzerInfo(nil), s.Analyzers...)
	if s.Analyses != nil {
		out.Analyses = make(AnalysisMap, len(s.Analyses))
		for guid, byAnalyzer := range s.Analyses {
			m := make(map[string]helium.CollectionAnalysis, len(byAnalyzer))
			for name, a := range byAnalyzer {
				m[name] = a
			}
			out.Analyses[guid] = m
		}
	}
	if s.DiskUsage != nil {
		out.DiskUsage = make(map[string]int64, len(s.DiskUsage))
		for k, v := range s.DiskUsage {
			out.DiskUsage[k] = v
		}
	}
	return out
}

func cloneCollection(c helium.Collection) helium.Collection {
	c.Tags = append([]string(nil), c.Tags...)
	return c
}

// Collection looks a collection up by guid.
func (s State) Collection(guid string) (helium.Collection, bool) {
	for _, c := range s.Collections {
		if c.GUID == guid {
			return c, true
		}
	}
	return helium.Collection{}, false
}

// TabIndex returns the position of a collection in the open tabs, or -1.
func (s State) TabIndex(guid string) int {
	for i, c := range s.Tabs {
		if c.GUID == guid {
			return i
		}
	}
	return -1
}

// AnalysisStatus returns the status of an analyzer on a collection.
func (s State) AnalysisStatus(collectionGUID, analyzer string) helium.AnalysisStatus {
	if a, ok := s.Analyses[collectionGUID][analyzer]; ok {
		return a.Status
	}
	return helium.StatusAbsent
}

// AnalysesLoaded reports whether the analysis map of a collection exists.
func (s State) AnalysesLoaded(collectionGUID string) bool {
	_, ok := s.Analyses[collectionGUID]
	return ok
}

// IsOrphaned reports whether a collection has lost its collector.
func (s State) IsOrphaned(c helium.Collection) bool {
	return IsOrphaned(s.Collectors, c)
}

// SetCase replaces the case metadata.
func SetCase(s State, meta helium.CaseMetadata) State {
	out := s.Clone()
	out.Case = meta
	out.Loaded = true
	return out
}

// SetCollectors replaces the collector list.
func SetCollectors(s State, collectors []helium.Collector) State {
	out := s.Clone()
	out.Collectors = dedupCollectors(collectors)
	helium.SortCollectors(out.Collectors)
	return out
}

// SetCollections replaces the collection list.
func SetCollections(s State, collections []helium.Collection) State {
	out := s.Clone()
	out.Collections = out.Collections[:0]
	for _, c := range collections {
		out.Collections = upsertCollection(out.Collections, cloneCollection(c))
	}
	helium.SortCollections(out.Collections)
	return out
}

// ReplaceCollection inserts or replaces a collection in the list and, in
// place, in the open tabs. The last write for a guid wins.
func ReplaceCollection(s State, c helium.Collection) State {
	out := s.Clone()
	out.Collections = upsertCollection(out.Collections, cloneCollection(c))
	if i := out.TabIndex(c.GUID); i >= 0 {
		out.Tabs[i] = cloneCollection(c)
	}
	helium.SortCollections(out.Collections)
	return out
}

// AddCollector inserts or replaces one collector.
func AddCollector(s State, c helium.Collector) State {
	out := s.Clone()
	out.Collectors = upsertCollector(out.Collectors, c)
	helium.SortCollectors(out.Collectors)
	return out
}

// OpenTab opens a collection as a tab, or focuses it when already open.
// Unknown guids leave the state untouched.
func OpenTab(s State, guid string) (State, []Effect) {
	if s.TabIndex(guid) < 0 {
		c, ok := s.Collection(guid)
		if !ok {
			return s, nil
		}
		s = s.Clone()
		s.Tabs = append(s.Tabs, cloneCollection(c))
	} else {
		s = s.Clone()
	}
	s.SelectedTab = guid
	return s, []Effect{render(), scrollTo(guid)}
}

// SelectTab focuses an already open tab.
func SelectTab(s State, guid string) (State, []Effect) {
	if s.TabIndex(guid) < 0 || s.SelectedTab == guid {
		return s, nil
	}
	out := s.Clone()
	out.SelectedTab = guid
	return out, []Effect{render(), scrollTo(guid)}
}

// CloseTab closes the tab at index and selects the first remaining tab.
func CloseTab(s State, index int) (State, []Effect) {
	if index < 0 || index >= len(s.Tabs) {
		return s, nil
	}
	out := s.Clone()
	out.Tabs = append(out.Tabs[:index], out.Tabs[index+1:]...)
	out.SelectedTab = ""
	if len(out.Tabs) > 0 {
		out.SelectedTab = out.Tabs[0].GUID
	}
	if out.SelectedTab == "" {
		return out, []Effect{render()}
	}
	return out, []Effect{render(), scrollTo(out.SelectedTab)}
}

// SetAnalyses replaces the analysis map of a collection with an authoritative list.
func SetAnalyses(s State, collectionGUID string, analyses []helium.CollectionAnalysis) State {
	out := s.Clone()
	if out.Analyses == nil {
		out.Analyses = make(AnalysisMap)
	}
	m := make(map[string]helium.CollectionAnalysis, len(analyses))
	for _, a := range analyses {
		m[a.Analyzer] = a
	}
	out.Analyses[collectionGUID] = m
	return out
}

// SetAnalysis stores the record returned by a start or restart command.
func SetAnalysis(s State, collectionGUID string, a helium.CollectionAnalysis) State {
	out := s.Clone()
	if out.Analyses == nil {
		out.Analyses = make(AnalysisMap)
	}
	if out.Analyses[collectionGUID] == nil {
		out.Analyses[collectionGUID] = make(map[string]helium.CollectionAnalysis)
	}
	out.Analyses[collectionGUID][a.Analyzer] = a
	return out
}

// SetDiskUsage records the storage used by the case. The _total key holds the sum.
func SetDiskUsage(s State, du helium.CaseDiskUsage) State {
	out := s.Clone()
	out.DiskUsage = map[string]int64{
		"analyses":    du.Analyses,
		"collections": du.Collections,
		"collectors":  du.Collectors,
		"_total":      du.Total(),
	}
	return out
}

// SetAnalyzerInfos replaces the analyzer catalog.
func SetAnalyzerInfos(s State, infos []helium.AnalyzerInfo) State {
	out := s.Clone()
	out.Analyzers = append([]helium.AnalyzerInfo(nil), infos...)
	return out
}

func upsertCollector(list []helium.Collector, c helium.Collector) []helium.Collector {
	for i := range list {
		if list[i].GUID == c.GUID {
			list[i] = c
			return list
		}
	}
	return append(list, c)
}

func upsertCollection(list []helium.Collection, c helium.Collection) []helium.Collection {
	for i := range list {
		if list[i].GUID == c.GUID {
			list[i] = c
			return list
		}
	}
	return append(list, c)
}

func dedupCollectors(in []helium.Collector) []helium.Collector {
	out := make([]helium.Collector, 0, len(in))
	for _, c := range in {
		out = upsertCollector(out, c)
	}
	return out
}
