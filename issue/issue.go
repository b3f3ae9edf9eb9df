// Package issue defines the typed defect record produced by the validator
// and consumed by the dispatcher.
package issue

import "fmt"

// Category classifies an issue into one of the fixed rule families.
type Category string

const (
	Accessibility Category = "Accessibility"
	Imagery       Category = "Imagery"
	Forms         Category = "Forms"
	Buttons       Category = "Buttons"
	Typography    Category = "Typography"
	Responsive    Category = "Responsive"
)

// Categories lists every category in declaration order.
func Categories() []Category {
	return []Category{Accessibility, Imagery, Forms, Buttons, Typography, Responsive}
}

// Severity is the ordered severity scale. Higher values are more severe.
type Severity int

const (
	Lowest Severity = iota + 1
	Low
	Medium
	High
	Highest
)

var severityNames = map[Severity]string{
	Lowest:  "Lowest",
	Low:     "Low",
	Medium:  "Medium",
	High:    "High",
	Highest: "Highest",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Valid reports whether s is one of the five defined levels.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// Issue describes one detected defect on a page.
type Issue struct {
	Category    Category `json:"category"`
	Subcategory string   `json:"subcategory"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`

	// Locator is a CSS-style selector pointing at the offending element,
	// when one can be named.
	Locator    string `json:"locator,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`

	// Rule tags the validator rule that produced the issue. Empty for
	// manually created issues.
	Rule string `json:"rule,omitempty"`
}

// MarshalText encodes the severity by name so persisted issues stay
// readable.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	for sev, name := range severityNames {
		if name == string(b) {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("issue: unknown severity %q", string(b))
}
