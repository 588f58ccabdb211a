package detect

// Result is the outcome of running a RuleSet against one request.
type Result struct {
	IsAttack   bool     `json:"is_attack"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// Detector applies a RuleSet to inbound requests. It holds no mutable state
// and is safe for concurrent use.
type Detector struct {
	rules *RuleSet
}

// NewDetector returns a Detector over rules. A nil rules uses DefaultRuleSet.
func NewDetector(rules *RuleSet) *Detector {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &Detector{rules: rules}
}

// Detect decodes r and evaluates it.
func (d *Detector) Detect(r Request) Result {
	return d.DetectSurface(Decode(r))
}

// DetectSurface evaluates every rule in order against s.
//
// A category becomes a candidate on its first matching matcher. The running
// best is replaced whenever a candidate's confidence is greater than or equal
// to it, so a later category wins a tie. Evidence from every matching matcher
// is kept regardless of which category wins.
func (d *Detector) DetectSurface(s Surface) Result {
	res := Result{Category: CategoryNone, Evidence: []string{}}

	for _, rule := range d.rules.rules {
		candidate := false
		for _, m := range rule.Matchers {
			if !m.Match(&s) {
				continue
			}
			res.Evidence = append(res.Evidence, m.Reason())
			if candidate {
				continue
			}
			candidate = true
			if !res.IsAttack || rule.Confidence >= res.Confidence {
				res.IsAttack = true
				res.Category = rule.Category
				res.Confidence = clamp01(rule.Confidence)
			}
		}
	}
	return res
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
