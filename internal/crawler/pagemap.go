package crawler

import (
	"fmt"
	"strings"
)

// PageMap represents the analyzed structure of a web page
type PageMap struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Elements   []Element `json:"elements"`
	Navigation []NavItem `json:"navigation"`
	IsSPA      bool      `json:"isSPA"`
}

// Element represents an interactive element on the page
type Element struct {
	Selector    string `json:"selector"`
	Type        string `json:"type"` // button, link, select, or the input type
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
}

// NavItem represents a navigation link
type NavItem struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Href     string `json:"href"`
}

// Trim returns a copy holding at most maxElements elements and maxNav navigation items, keeping
// prompts bounded on very large pages.
func (m *PageMap) Trim(maxElements, maxNav int) *PageMap {
	if m == nil {
		return nil
	}
	out := *m
	if maxElements >= 0 && len(out.Elements) > maxElements {
		out.Elements = out.Elements[:maxElements]
	}
	if maxNav >= 0 && len(out.Navigation) > maxNav {
		out.Navigation = out.Navigation[:maxNav]
	}
	return &out
}

// Outline renders the map as compact text, one element per line.
func (m *PageMap) Outline() string {
	if m == nil {
		return "(page not inspected)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n", m.URL, m.Title)
	if m.IsSPA {
		b.WriteString("Single-page app: yes\n")
	}
	if len(m.Elements) > 0 {
		b.WriteString("Interactive elements:\n")
		for _, e := range m.Elements {
			fmt.Fprintf(&b, "- %s %s", e.Type, e.Selector)
			switch {
			case e.Text != "":
				fmt.Fprintf(&b, " %q", e.Text)
			case e.Placeholder != "":
				fmt.Fprintf(&b, " placeholder=%q", e.Placeholder)
			}
			b.WriteByte('\n')
		}
	}
	if len(m.Navigation) > 0 {
		b.WriteString("Navigation:\n")
		for _, n := range m.Navigation {
			fmt.Fprintf(&b, "- %s %q -> %s\n", n.Selector, n.Text, n.Href)
		}
	}
	return b.String()
}
