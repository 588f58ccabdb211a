package detect

import (
	"fmt"
	"regexp"
)

// Input selects which part of a Surface a pattern is tested against.
type Input int

const (
	InputCombined Input = iota
	InputPath
	InputHeaders
)

func (in Input) slice(s *Surface) string {
	switch in {
	case InputPath:
		return s.Path
	case InputHeaders:
		return s.Headers
	default:
		return s.Combined
	}
}

// Matcher is a single detection rule. Implementations must be safe for
// concurrent use and must not retain the Surface.
type Matcher interface {
	Match(s *Surface) bool
	// Reason is the human-readable evidence string emitted on a match.
	Reason() string
}

// patternMatcher tests a compiled regular expression against one or more
// input slices.
type patternMatcher struct {
	re     *regexp.Regexp
	inputs []Input
	reason string
}

func (m *patternMatcher) Match(s *Surface) bool {
	for _, in := range m.inputs {
		if v := in.slice(s); v != "" && m.re.MatchString(v) {
			return true
		}
	}
	return false
}

func (m *patternMatcher) Reason() string { return m.reason }

// predicateMatcher evaluates a structural check such as payload size.
type predicateMatcher struct {
	fn     func(s *Surface) bool
	reason string
}

func (m *predicateMatcher) Match(s *Surface) bool { return m.fn(s) }

func (m *predicateMatcher) Reason() string { return m.reason }

// Pattern returns a Matcher that reports a match when expr matches any of
// the given inputs. With no inputs the combined query/body text is used.
// It panics if expr does not compile.
func Pattern(reason, expr string, inputs ...Input) Matcher {
	if len(inputs) == 0 {
		inputs = []Input{InputCombined}
	}
	return &patternMatcher{re: regexp.MustCompile(expr), inputs: inputs, reason: reason}
}

// Predicate returns a Matcher backed by fn.
func Predicate(reason string, fn func(s *Surface) bool) Matcher {
	return &predicateMatcher{fn: fn, reason: reason}
}

// Rule binds a category to its ordered matchers and base confidence.
type Rule struct {
	Category   Category
	Confidence float64
	Matchers   []Matcher
}

// Limits configures the structural predicates of the dos rule.
type Limits struct {
	// MaxBodyBytes is the body size ceiling; larger bodies (decoded,
	// declared, or observed before a truncated read) are flagged.
	MaxBodyBytes int64
	// MaxRepeatRun is the longest tolerated run of one repeated byte in the
	// combined input.
	MaxRepeatRun int
}

// DefaultLimits are the limits used by DefaultRuleSet.
var DefaultLimits = Limits{
	MaxBodyBytes: 1 << 20,
	MaxRepeatRun: 4096,
}

// RuleSet is an immutable, ordered collection of rules. It is safe to share
// between goroutines.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet builds a RuleSet from rules, keeping their order.
func NewRuleSet(rules []Rule) *RuleSet {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &RuleSet{rules: cp}
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rules returns a copy of the rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	cp := make([]Rule, len(rs.rules))
	copy(cp, rs.rules)
	return cp
}

// DefaultRuleSet returns the built-in rule table with DefaultLimits.
func DefaultRuleSet() *RuleSet {
	return BuildRuleSet(DefaultLimits)
}

// BuildRuleSet returns the built-in rule table with the given limits. Rules
// are ordered as Categories.
func BuildRuleSet(limits Limits) *RuleSet {
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = DefaultLimits.MaxBodyBytes
	}
	if limits.MaxRepeatRun <= 0 {
		limits.MaxRepeatRun = DefaultLimits.MaxRepeatRun
	}

	matchers := map[Category][]Matcher{
		CategorySQLInjection: {
			Pattern("SQL injection: quoted boolean tautology",
				`(?i)'\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`),
			Pattern("SQL injection: numeric tautology",
				`(?i)\b(or|and)\s+\d+\s*=\s*\d+`),
			Pattern("SQL injection: UNION SELECT",
				`(?i)\bunion\b(\s+all)?\s+select\b`),
			Pattern("SQL injection: stacked statement",
				`(?i);\s*((drop|truncate|alter|create)\s+(table|database)\b|delete\s+from\b|insert\s+into\b|update\s+\w+\s+set\b)`),
			Pattern("SQL injection: comment after quote",
				`'\s*(--|#|/\*)`),
			Pattern("SQL injection: time-based function",
				`(?i)\b(sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\b`),
			Pattern("SQL injection: schema probing",
				`(?i)\binformation_schema\b|\bload_file\s*\(`),
		},
		CategoryXSS: {
			Pattern("XSS: script tag", `(?i)<\s*script\b`),
			Pattern("XSS: inline event handler", `(?i)[\s"'/]on[a-z]+\s*=`),
			Pattern("XSS: javascript URI", `(?i)javascript\s*:`),
			Pattern("XSS: embedded frame or object", `(?i)<\s*(iframe|object|embed|frameset|applet)\b`),
			Pattern("XSS: DOM sink access", `(?i)document\s*\.\s*(cookie|location|write)|window\s*\.\s*location`),
			Pattern("XSS: dialog call", `(?i)\b(alert|prompt|confirm)\s*\(`),
		},
		CategoryDoS: {
			Predicate(fmt.Sprintf("DoS: payload exceeds %d bytes", limits.MaxBodyBytes), func(s *Surface) bool {
				return int64(s.BodyBytes) > limits.MaxBodyBytes ||
					s.DeclaredLength > limits.MaxBodyBytes ||
					(s.Truncated && int64(s.RawBodyBytes) > limits.MaxBodyBytes)
			}),
			Predicate(fmt.Sprintf("DoS: run of %d or more repeated bytes", limits.MaxRepeatRun), func(s *Surface) bool {
				return longestRun(s.Combined) >= limits.MaxRepeatRun
			}),
		},
		CategoryPathTraversal: {
			Pattern("path traversal: dot-dot segment", `\.\.[/\\]`, InputPath, InputCombined),
			Pattern("path traversal: encoded dot-dot", `(?i)%2e%2e(%2f|%5c|/|\\)`, InputPath, InputCombined),
			Pattern("path traversal: unix system file", `(?i)/etc/(passwd|shadow|hosts|group)\b`, InputPath, InputCombined),
			Pattern("path traversal: procfs access", `(?i)/proc/(self|\d+)/`, InputPath, InputCombined),
			Pattern("path traversal: windows system file", `(?i)windows[/\\](system32|win\.ini)|\bboot\.ini\b`, InputPath, InputCombined),
			Pattern("path traversal: null byte", `\x00`, InputPath, InputCombined),
		},
		CategoryCommandInjection: {
			Pattern("command injection: chained shell command",
				`(?i)(;|&&|\|\|?)\s*(ls|cat|id|whoami|uname|pwd|curl|wget|nc|ncat|bash|sh|rm|ping|nslookup|chmod)\b`),
			Pattern("command injection: backtick substitution", "`[^`]+`"),
			Pattern("command injection: $() substitution", `\$\([^)]+\)`),
			Pattern("command injection: exec function", `(?i)\b(system|exec|shell_exec|passthru|popen|proc_open)\s*\(`),
			Pattern("command injection: shell binary", `(?i)/bin/(ba|z)?sh\b|\bcmd(\.exe)?\s+/c\b|\bpowershell\b`),
		},
		CategoryLDAPInjection: {
			Pattern("LDAP injection: wildcard filter break-out", `\*\)\s*\(\s*[|&!]`),
			Pattern("LDAP injection: injected boolean filter", `(?i)\(\s*[|&!]\s*\(\s*[a-z]+\s*=`),
			Pattern("LDAP injection: attribute filter break-out", `(?i)\)\s*\(\s*(uid|cn|mail|objectclass|sn|ou|userpassword)\s*=`),
		},
		CategoryXMLInjection: {
			Pattern("XML injection: inline DTD", `(?i)<!DOCTYPE\s+\w+\s*\[`),
			Pattern("XML injection: external entity", `(?i)<!ENTITY\s+(%\s*)?\w+\s+(SYSTEM|PUBLIC)\b`),
			Pattern("XML injection: external resource", `(?i)\bSYSTEM\s+\\?["'](file|https?|ftp|php|expect|jar|netdoc)://`),
			Pattern("XML injection: XInclude", `(?i)<xi:include\b|xmlns:xi\s*=`),
		},
		CategoryNoSQLInjection: {
			Pattern("NoSQL injection: query operator", `(?i)[\[{,"'\s]\$(ne|gt|gte|lt|lte|nin|regex|where|exists|expr|elemmatch)\b`),
			Pattern("NoSQL injection: server-side JavaScript", `(?i)\bthis\.\w+\s*(==|!=)|\bthis\.\w+\.match\s*\(`),
			Pattern("NoSQL injection: shell collection call", `(?i)\bdb\.\w+\.(find|drop|insert|remove|update)\w*\s*\(`),
		},
		CategoryHeaderInjection: {
			Pattern("header injection: encoded CR/LF", `(?i)%0d|%0a`, InputHeaders),
			Pattern("header injection: escaped CR/LF", `\\r|\\n`, InputHeaders),
			Pattern("header injection: raw carriage return", `\r`, InputHeaders),
			Pattern("header injection: JNDI lookup", `(?i)\$\{jndi:`, InputHeaders),
			Pattern("header injection: host header poisoning", "(?im)^(host|x-forwarded-host|x-original-url|x-rewrite-url):[^\n]*[<>\"'`{}]", InputHeaders),
		},
		CategoryTemplateInjection: {
			Pattern("template injection: double-brace expression", `\{\{[^}]*\}\}`),
			Pattern("template injection: ${} expression", `\$\{[^}]*\}`),
			Pattern("template injection: scriptlet", `<%[=\-]?[^%]*%>`),
			Pattern("template injection: block tag", `(?i)\{%-?\s*(if|for|set|import|include|extends|macro|block)\b`),
			Pattern("template injection: #{} expression", `#\{[^}]*\}`),
			Pattern("template injection: dunder traversal", `(?i)__(class|mro|subclasses|globals|builtins|import)__`),
		},
	}

	rules := make([]Rule, 0, len(Categories))
	for _, c := range Categories {
		rules = append(rules, Rule{
			Category:   c,
			Confidence: BaseConfidence(c),
			Matchers:   matchers[c],
		})
	}
	return NewRuleSet(rules)
}

// longestRun returns the length of the longest run of a single repeated byte.
func longestRun(s string) int {
	if s == "" {
		return 0
	}
	best, cur := 1, 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			cur++
			if cur > best {
				best = cur
			}
			continue
		}
		cur = 1
	}
	return best
}
