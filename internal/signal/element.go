package signal

import (
	"strings"

	"github.com/xkilldash9x/invisinsights/internal/geometry"
)

// Element is the host's transient handle for a page element. Hosts create one
// per live element and must pass the same pointer for the same element; the
// engine keeps per-element state (hover timing) on the handle itself, so it is
// collected together with the handle once the host drops it.
type Element struct {
	// ID is the host's identifier, used by adapters to resolve event targets.
	ID   string `json:"id,omitempty"`
	Tag  string `json:"tag"`
	Role string `json:"role,omitempty"`
	// Type is the input subtype (the type attribute).
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`

	Disabled     bool `json:"disabled,omitempty"`
	AriaDisabled bool `json:"aria_disabled,omitempty"`
	// TabIndex is nil when the element carries no explicit tab index.
	TabIndex        *int `json:"tabindex,omitempty"`
	HasClickHandler bool `json:"has_click_handler,omitempty"`
	// MarkedCTA is set for elements explicitly marked as a call to action.
	MarkedCTA bool `json:"cta,omitempty"`
	// Goal names the conversion goal completed by clicking the element.
	Goal string `json:"goal,omitempty"`

	Box    geometry.Rect `json:"box"`
	Parent *Element      `json:"-"`

	hovering   bool
	hoverSince int64
}

var interactiveTags = map[string]bool{
	"button":   true,
	"a":        true,
	"input":    true,
	"select":   true,
	"textarea": true,
}

var interactiveRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"checkbox": true,
	"radio":    true,
	"switch":   true,
	"tab":      true,
	"menuitem": true,
	"option":   true,
	"combobox": true,
	"textbox":  true,
	"slider":   true,
}

func (el *Element) tag() string {
	return strings.ToLower(el.Tag)
}

// selfDisabled reports an explicit disabled flag on the element alone.
func (el *Element) selfDisabled() bool {
	return el.Disabled || el.AriaDisabled
}

// IsDisabled reports whether the element or any ancestor is marked disabled.
func IsDisabled(el *Element) bool {
	for cur := el; cur != nil; cur = cur.Parent {
		if cur.selfDisabled() {
			return true
		}
	}
	return false
}

// IsInteractive reports whether the element itself is an interactive kind:
// an interactive tag or role, any explicit tab index, or a click handler.
// Ancestors are not consulted.
func IsInteractive(el *Element) bool {
	if el == nil {
		return false
	}
	if interactiveTags[el.tag()] || interactiveRoles[strings.ToLower(el.Role)] {
		return true
	}
	return el.TabIndex != nil || el.HasClickHandler
}

// IsCTA reports whether the element invites a primary action: buttons,
// anchors with a destination, submit/button inputs and explicitly marked elements.
func IsCTA(el *Element) bool {
	if el == nil {
		return false
	}
	if el.MarkedCTA {
		return true
	}
	switch el.tag() {
	case "button":
		return true
	case "a":
		return el.Href != ""
	case "input":
		t := strings.ToLower(el.Type)
		return t == "submit" || t == "button"
	}
	return false
}

// InteractionSummary describes the most recently interacted element.
type InteractionSummary struct {
	Tag         string  `json:"tag"`
	Role        *string `json:"role"`
	Type        *string `json:"type"`
	Disabled    bool    `json:"disabled"`
	Interactive bool    `json:"interactive"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Summarize reduces an element to the coarse description carried in the payload.
func Summarize(el *Element) *InteractionSummary {
	if el == nil {
		return nil
	}
	return &InteractionSummary{
		Tag:         el.tag(),
		Role:        optional(el.Role),
		Type:        optional(el.Type),
		Disabled:    IsDisabled(el),
		Interactive: IsInteractive(el),
	}
}
