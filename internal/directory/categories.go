package directory

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

var categories = []string{"Mathematik", "Informatik", "Geschichte", "Naturwissenschaften"}

// Categories returns the fixed set of quiz categories in display order.
func Categories() []string {
	return slices.Clone(categories)
}

// NormalizeCategory maps user input onto a known category, ignoring case and surrounding
// whitespace ("mathematik " -> "Mathematik").
func NormalizeCategory(name string) (string, bool) {
	fold := cases.Fold()
	key := fold.String(strings.TrimSpace(name))
	if key == "" {
		return "", false
	}
	for _, c := range categories {
		if fold.String(c) == key {
			return c, true
		}
	}
	return "", false
}
