package caseview

import "fmt"

// EffectKind identifies a side effect requested by a transition.
type EffectKind int

const (
	// EffectRender asks the presentation layer to redraw from the new state.
	EffectRender EffectKind = iota
	// EffectToast shows a transient notification.
	EffectToast
	// EffectNavigateAway leaves the case view.
	EffectNavigateAway
	// EffectScrollToTab brings a tab into view once the tab strip has been redrawn.
	EffectScrollToTab
)

func (k EffectKind) String() string {
	switch k {
	case EffectRender:
		return "render"
	case EffectToast:
		return "toast"
	case EffectNavigateAway:
		return "navigate_away"
	case EffectScrollToTab:
		return "scroll_to_tab"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// Toast severities.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarn    = "warn"
	SeverityError   = "error"
)

// Toast is a transient user notification.
type Toast struct {
	Severity string
	Summary  string
	Detail   string
}

// Effect is one side effect. Toast is set for EffectToast, TabGUID for EffectScrollToTab.
type Effect struct {
	Kind    EffectKind
	Toast   Toast
	TabGUID string
}

func render() Effect { return Effect{Kind: EffectRender} }

func navigateAway() Effect { return Effect{Kind: EffectNavigateAway} }

func scrollTo(guid string) Effect { return Effect{Kind: EffectScrollToTab, TabGUID: guid} }

func toast(severity, summary, detail string) Effect {
	return Effect{Kind: EffectToast, Toast: Toast{Severity: severity, Summary: summary, Detail: detail}}
}

// HasEffect reports whether effects contain one of the given kind.
func HasEffect(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
