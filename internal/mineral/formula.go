package mineral

import "regexp"

// elementPattern matches a capital letter followed by an optional lowercase
// letter, which covers every IUPAC element symbol appearing in formulas.
// Subscripts, charges and structural markup are ignored by construction.
var elementPattern = regexp.MustCompile(`[A-Z][a-z]?`)

// ElementsFromFormula extracts the distinct element symbols from a chemical
// formula, in order of first appearance. Returns an empty, non-nil slice for
// an empty formula so callers never see a nil element list.
func ElementsFromFormula(formula string) []string {
	elements := make([]string, 0, 8)
	seen := make(map[string]bool, 8)
	for _, sym := range elementPattern.FindAllString(formula, -1) {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		elements = append(elements, sym)
	}
	return elements
}
