package plan

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Action is one tag of the closed action vocabulary.
type Action string

const (
	OpenPage         Action = "open_page"
	WaitFor          Action = "wait_for"
	WaitForPageReady Action = "wait_for_page_ready"
	Click            Action = "click"
	Type             Action = "type"
	PressKey         Action = "press_key"
	IfElementExists  Action = "if_element_exists"
	IfURLContains    Action = "if_url_contains"
	WaitForURLChange Action = "wait_for_url_change"
)

// Category groups actions by their effect on the page.
type Category int

const (
	Navigational Category = iota
	Interactive
	Conditional
	TemporalWait
)

func (c Category) String() string {
	switch c {
	case Navigational:
		return "navigational"
	case Interactive:
		return "interactive"
	case Conditional:
		return "conditional"
	case TemporalWait:
		return "temporal-wait"
	default:
		return "unknown"
	}
}

// Spec fixes the argument shape and execution policy of an action.
type Spec struct {
	Category Category
	// Required lists the args keys that must be non-empty.
	Required []string
	// Timeout applies when the step does not set args.timeout_ms.
	Timeout time.Duration
	// Attempts is the total number of tries on a transient failure.
	Attempts int
}

var specs = map[Action]Spec{
	OpenPage:         {Category: Navigational, Required: []string{"url"}, Timeout: 60 * time.Second, Attempts: 1},
	WaitFor:          {Category: TemporalWait, Required: []string{"selector"}, Timeout: 10 * time.Second, Attempts: 3},
	WaitForPageReady: {Category: TemporalWait, Timeout: 10 * time.Second, Attempts: 1},
	Click:            {Category: Interactive, Required: []string{"selector"}, Timeout: 10 * time.Second, Attempts: 3},
	Type:             {Category: Interactive, Required: []string{"selector", "text"}, Timeout: 10 * time.Second, Attempts: 3},
	PressKey:         {Category: Interactive, Required: []string{"key"}, Timeout: 5 * time.Second, Attempts: 1},
	IfElementExists:  {Category: Conditional, Required: []string{"selector"}, Timeout: time.Second, Attempts: 1},
	IfURLContains:    {Category: Conditional, Required: []string{"pattern"}, Attempts: 1},
	WaitForURLChange: {Category: TemporalWait, Timeout: 10 * time.Second, Attempts: 1},
}

// aliases maps spellings plan generators tend to emit onto vocabulary tags.
var aliases = map[string]Action{
	"navigate":           OpenPage,
	"goto":               OpenPage,
	"press":              PressKey,
	"wait_for_page_load": WaitForPageReady,
	"wait_for_selector":  WaitFor,
}

// Actions returns the vocabulary in declaration order.
func Actions() []Action {
	return []Action{OpenPage, WaitFor, WaitForPageReady, Click, Type, PressKey, IfElementExists, IfURLContains, WaitForURLChange}
}

// Lookup returns the vocabulary entry for a tag.
func Lookup(a Action) (Spec, bool) {
	s, ok := specs[a]
	return s, ok
}

// Known reports whether a is part of the vocabulary.
func (a Action) Known() bool {
	_, ok := specs[a]
	return ok
}

// Conditional reports whether a is a branch instruction.
func (a Action) Conditional() bool {
	return specs[a].Category == Conditional
}

// PageAffecting reports whether executing a changes visible state and is followed by a capture.
func (a Action) PageAffecting() bool {
	return a.Known() && !a.Conditional()
}

func (a Action) String() string { return string(a) }

// ParseAction normalises s and resolves aliases. Unknown tags are returned as-is so that
// validation can report them against the step that carries them.
func ParseAction(s string) Action {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	if a, ok := aliases[norm]; ok {
		return a
	}
	switch norm {
	case "ifelementexists":
		return IfElementExists
	case "ifurlcontains":
		return IfURLContains
	case "waitforurlchange":
		return WaitForURLChange
	case "waitforpageready":
		return WaitForPageReady
	case "waitfor":
		return WaitFor
	case "openpage":
		return OpenPage
	case "presskey":
		return PressKey
	}
	return Action(norm)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	*a = ParseAction(string(text))
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: action must be a string", value.Line)
	}
	*a = ParseAction(value.Value)
	return nil
}

// keyNames lists the named keys press_key accepts besides single printable characters.
var keyNames = map[string]bool{
	"Enter": true, "Escape": true, "Tab": true, "Backspace": true, "Delete": true, "Space": true,
	"ArrowUp": true, "ArrowDown": true, "ArrowLeft": true, "ArrowRight": true,
	"Home": true, "End": true, "PageUp": true, "PageDown": true,
}

// CanonicalKey resolves a key name case-insensitively. Single characters are returned unchanged.
func CanonicalKey(name string) (string, bool) {
	if len([]rune(name)) == 1 {
		return name, true
	}
	for k := range keyNames {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	switch strings.ToLower(name) {
	case "esc":
		return "Escape", true
	case "return":
		return "Enter", true
	}
	return "", false
}
