// Package detect implements heuristic attack detection for inbound HTTP
// requests. A request's surface (path, query, body, headers) is decoded and
// evaluated against a fixed RuleSet; the strongest matching category wins.
package detect

// Category is an attack classification tag.
type Category string

const (
	CategorySQLInjection      Category = "sql-injection"
	CategoryXSS               Category = "xss"
	CategoryDoS               Category = "dos"
	CategoryPathTraversal     Category = "path-traversal"
	CategoryCommandInjection  Category = "command-injection"
	CategoryLDAPInjection     Category = "ldap-injection"
	CategoryXMLInjection      Category = "xml-injection"
	CategoryNoSQLInjection    Category = "nosql-injection"
	CategoryHeaderInjection   Category = "header-injection"
	CategoryTemplateInjection Category = "template-injection"
	CategoryNone              Category = "none"
)

// Categories lists every attack category in evaluation order. CategoryNone is
// not included.
var Categories = []Category{
	CategorySQLInjection,
	CategoryXSS,
	CategoryDoS,
	CategoryPathTraversal,
	CategoryCommandInjection,
	CategoryLDAPInjection,
	CategoryXMLInjection,
	CategoryNoSQLInjection,
	CategoryHeaderInjection,
	CategoryTemplateInjection,
}

// baseConfidence is the static confidence assigned when a category's first
// rule matches.
var baseConfidence = map[Category]float64{
	CategorySQLInjection:      0.90,
	CategoryPathTraversal:     0.95,
	CategoryCommandInjection:  0.88,
	CategoryXMLInjection:      0.85,
	CategoryXSS:               0.85,
	CategoryNoSQLInjection:    0.82,
	CategoryTemplateInjection: 0.80,
	CategoryLDAPInjection:     0.80,
	CategoryDoS:               0.80,
	CategoryHeaderInjection:   0.75,
}

// BaseConfidence returns the static confidence for c, or 0 for CategoryNone
// and unknown categories.
func BaseConfidence(c Category) float64 {
	return baseConfidence[c]
}

// ParseCategory converts s into a Category. The second return value is false
// when s does not name a known category. "none" is accepted.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	if c == CategoryNone {
		return c, true
	}
	_, ok := baseConfidence[c]
	return c, ok
}

// String implements fmt.Stringer.
func (c Category) String() string { return string(c) }
