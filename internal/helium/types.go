// Package helium holds the wire types shared with the Helium backend: case
// metadata, collectors, collections, analyses and the case event envelope.
package helium

import (
	"sort"
	"time"
)

// CaseMetadata describes a case. Closed is empty while the case is open and
// holds the RFC 3339 close time otherwise.
type CaseMetadata struct {
	GUID        string `json:"guid" yaml:"guid"`
	TSID        string `json:"tsid,omitempty" yaml:"tsid,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Closed      string `json:"closed" yaml:"closed"`
}

// IsClosed reports whether the case carries a close timestamp.
func (c CaseMetadata) IsClosed() bool {
	return c.Closed != ""
}

// CasePatch is a partial case update. Nil fields are left untouched by the server.
type CasePatch struct {
	TSID        *string `json:"tsid,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Closed      *string `json:"closed,omitempty"`
}

// Collector is a collection agent definition. Collections are linked to it by fingerprint.
type Collector struct {
	GUID        string `json:"guid" yaml:"guid"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	Created     string `json:"created" yaml:"created"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Collection is a data bundle gathered by a collector.
type Collection struct {
	GUID        string   `json:"guid" yaml:"guid"`
	Fingerprint string   `json:"fingerprint" yaml:"fingerprint"`
	Hostname    string   `json:"hostname" yaml:"hostname"`
	Created     string   `json:"created" yaml:"created"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// AnalysisStatus is the lifecycle state of an analysis.
type AnalysisStatus string

const (
	// StatusAbsent is never sent by the server; it stands for "no analysis yet".
	StatusAbsent     AnalysisStatus = ""
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusSuccess    AnalysisStatus = "success"
	StatusFailure    AnalysisStatus = "failure"
)

// InFlight reports whether the analysis is queued or running.
func (s AnalysisStatus) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// CollectionAnalysis is one analyzer run over a collection.
type CollectionAnalysis struct {
	GUID     string         `json:"guid" yaml:"guid"`
	Analyzer string         `json:"analyzer" yaml:"analyzer"`
	Status   AnalysisStatus `json:"status" yaml:"status"`
	Created  string         `json:"created,omitempty" yaml:"created,omitempty"`
	Updated  string         `json:"updated,omitempty" yaml:"updated,omitempty"`
}

// AnalyzerInfo describes an analyzer available on the server.
type AnalyzerInfo struct {
	Name string   `json:"name" yaml:"name"`
	Tags []string `json:"tags" yaml:"tags"`
}

// DiskUsage is the server-wide storage report.
type DiskUsage struct {
	Cases []CaseDiskUsage `json:"cases"`
}

// CaseDiskUsage is the storage used by one case, in bytes.
type CaseDiskUsage struct {
	GUID        string `json:"guid" yaml:"guid"`
	Analyses    int64  `json:"analyses" yaml:"analyses"`
	Collections int64  `json:"collections" yaml:"collections"`
	Collectors  int64  `json:"collectors" yaml:"collectors"`
}

// Total is the sum of all storage categories.
func (d CaseDiskUsage) Total() int64 {
	return d.Analyses + d.Collections + d.Collectors
}

// ForCase returns the usage entry of a case.
func (d DiskUsage) ForCase(guid string) (CaseDiskUsage, bool) {
	for _, c := range d.Cases {
		if c.GUID == guid {
			return c, true
		}
	}
	return CaseDiskUsage{}, false
}

// ParseTimestamp parses an ISO-8601 timestamp as sent by the server.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// newerFirst orders timestamps descending; unparseable values go last.
func newerFirst(a, b string) bool {
	ta, okA := ParseTimestamp(a)
	tb, okB := ParseTimestamp(b)
	switch {
	case okA && okB:
		return ta.After(tb)
	case okA:
		return true
	default:
		return false
	}
}

// SortCollectors sorts collectors by creation time, newest first.
func SortCollectors(cs []Collector) {
	sort.SliceStable(cs, func(i, j int) bool { return newerFirst(cs[i].Created, cs[j].Created) })
}

// SortCollections sorts collections by creation time, newest first.
func SortCollections(cs []Collection) {
	sort.SliceStable(cs, func(i, j int) bool { return newerFirst(cs[i].Created, cs[j].Created) })
}
