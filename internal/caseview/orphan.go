package caseview

import (
	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// IsOrphaned reports whether no collector shares the collection's fingerprint.
func IsOrphaned(collectors []helium.Collector, c helium.Collection) bool {
	for _, col := range collectors {
		if col.Fingerprint == c.Fingerprint {
			return false
		}
	}
	return true
}

// AnalyzerApplies reports whether an analyzer can run on a collection with
// the given tags. Unknown analyzers never apply; analyzers without tags
// always do.
func AnalyzerApplies(infos []helium.AnalyzerInfo, analyzer string, tags []string) bool {
	for _, info := range infos {
		if info.Name != analyzer {
			continue
		}
		if len(info.Tags) == 0 {
			return true
		}
		wanted := make(map[string]struct{}, len(info.Tags))
		for _, t := range info.Tags {
			wanted[t] = struct{}{}
		}
		for _, t := range tags {
			if _, ok := wanted[t]; ok {
				return true
			}
		}
		return false
	}
	return false
}

// ApplicableAnalyzers lists, in catalog order, the analyzers that apply to a collection.
func ApplicableAnalyzers(infos []helium.AnalyzerInfo, c helium.Collection) []string {
	var names []string
	for _, info := range infos {
		if AnalyzerApplies(infos, info.Name, c.Tags) {
			names = append(names, info.Name)
		}
	}
	return names
}
