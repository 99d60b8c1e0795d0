package helium

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event categories pushed on a case event stream.
const (
	CategorySubscribers      = "subscribers"
	CategorySubscribe        = "subscribe"
	CategoryUnsubscribe      = "unsubscribe"
	CategoryImportCollector  = "import_collector"
	CategoryCreateCollector  = "create_collector"
	CategoryDeleteCollector  = "delete_collector"
	CategoryCreateCollection = "create_collection"
	CategoryUpdateCollection = "update_collection"
	CategoryDeleteCollection = "delete_collection"
	CategoryUpdateCase       = "update_case"
	CategoryDeleteCase       = "delete_case"
	CategoryCreateAnalysis   = "create_analysis"
	CategoryDeleteAnalysis   = "delete_analysis"

	// AnalysisStatusPrefix prefixes status transition categories such as analysis_success.
	AnalysisStatusPrefix = "analysis_"
)

// ErrEmptyEvent is returned for stream messages without a payload.
var ErrEmptyEvent = errors.New("empty event payload")

// Event is one message of a case event stream.
type Event struct {
	Category string          `json:"category"`
	Ext      json.RawMessage `json:"ext,omitempty"`
	Case     *CaseMetadata   `json:"case,omitempty"`
}

// ParseEvent decodes a stream message body.
func ParseEvent(data []byte) (Event, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Event{}, ErrEmptyEvent
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Category == "" {
		return Event{}, fmt.Errorf("event without category")
	}
	return ev, nil
}

// AnalysisStatusFromCategory extracts the status carried by an analysis_<status>
// category. ok is false for other categories and for an empty suffix.
func AnalysisStatusFromCategory(category string) (AnalysisStatus, bool) {
	if !strings.HasPrefix(category, AnalysisStatusPrefix) {
		return StatusAbsent, false
	}
	suffix := strings.TrimPrefix(category, AnalysisStatusPrefix)
	if suffix == "" {
		return StatusAbsent, false
	}
	return AnalysisStatus(suffix), true
}

// SubscribersPayload is the ext of a subscribers event.
type SubscribersPayload struct {
	Usernames []string `json:"usernames"`
}

// SubscriptionPayload is the ext of subscribe and unsubscribe events.
type SubscriptionPayload struct {
	Username string `json:"username"`
}

// GUIDPayload is the ext of delete events.
type GUIDPayload struct {
	GUID string `json:"guid"`
}

// AnalysisPayload is the ext of create_analysis and analysis_<status> events.
type AnalysisPayload struct {
	Collection Collection         `json:"collection"`
	Analysis   CollectionAnalysis `json:"analysis"`
}

// DecodeExt unmarshals the category payload into v.
func (e Event) DecodeExt(v any) error {
	if len(e.Ext) == 0 {
		return fmt.Errorf("%s event without ext", e.Category)
	}
	if err := json.Unmarshal(e.Ext, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Category, err)
	}
	return nil
}

// CaseMetadata returns the case carried by the event, preferring the case
// field over ext.
func (e Event) CaseMetadata() (CaseMetadata, error) {
	if e.Case != nil {
		return *e.Case, nil
	}
	var meta CaseMetadata
	if err := e.DecodeExt(&meta); err != nil {
		return CaseMetadata{}, err
	}
	return meta, nil
}

// SubjectGUID returns the guid of the entity the event is about, if any.
func (e Event) SubjectGUID() string {
	if e.Case != nil && (e.Category == CategoryUpdateCase || e.Category == CategoryDeleteCase) {
		return e.Case.GUID
	}
	var probe struct {
		GUID     string              `json:"guid"`
		Analysis *CollectionAnalysis `json:"analysis"`
	}
	if len(e.Ext) == 0 || json.Unmarshal(e.Ext, &probe) != nil {
		return ""
	}
	if probe.Analysis != nil {
		return probe.Analysis.GUID
	}
	return probe.GUID
}
