package claims

import (
	"regexp"
	"strings"

	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/model/gates"
)

type Kind string

const (
	// QualifierNearClaim requires a qualifier within Window sentences of every claim.
	QualifierNearClaim Kind = "qualifier_near_claim"
	// ForbiddenPhrase forbids the phrases anywhere.
	ForbiddenPhrase Kind = "forbidden_phrase"
)

// A Rule is one declarative wording requirement.
type Rule struct {
	ID       string
	Kind     Kind
	Severity gates.Status
	// Section restricts the rule to sections whose title contains it.
	Section    string
	Claims     []string
	Qualifiers []string
	Window     int
	Phrases    []string

	claims, qualifiers, phrases []matcher
}

type matcher struct {
	phrase string
	re     *regexp.Regexp
}

// A Finding is a sentence that breaks a rule.
type Finding struct {
	Rule     string       `json:"rule"`
	Severity gates.Status `json:"severity"`
	Section  string       `json:"section"`
	Sentence string       `json:"sentence"`
	Match    string       `json:"match"`
}

// compile matches each phrase as whole words of normalized text. Neither a letter nor a digit may
// adjoin a match, so a number never matches inside a larger one.
func compile(phrases []string) []matcher {
	out := make([]matcher, 0, len(phrases))
	for _, p := range phrases {
		n := Normalize(p)
		if n == "" {
			continue
		}
		out = append(out, matcher{phrase: p, re: regexp.MustCompile(`(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(n) + `(?:$|[^\p{L}\p{N}])`)})
	}
	return out
}

// NewRule checks and compiles a rule.
func NewRule(r Rule) (*Rule, error) {
	if r.ID == "" {
		return nil, xerrors.Errorf("claim rule has no id")
	}
	switch r.Severity {
	case gates.StatusFail, gates.StatusWarn:
	case "":
		r.Severity = gates.StatusFail
	default:
		return nil, xerrors.Errorf("claim rule %s: invalid severity %q", r.ID, r.Severity)
	}
	switch r.Kind {
	case QualifierNearClaim:
		if len(r.Claims) == 0 || len(r.Qualifiers) == 0 {
			return nil, xerrors.Errorf("claim rule %s: needs claims and qualifiers", r.ID)
		}
		if r.Window < 0 {
			return nil, xerrors.Errorf("claim rule %s: negative window", r.ID)
		}
	case ForbiddenPhrase:
		if len(r.Phrases) == 0 {
			return nil, xerrors.Errorf("claim rule %s: needs phrases", r.ID)
		}
	default:
		return nil, xerrors.Errorf("claim rule %s: unknown kind %q", r.ID, r.Kind)
	}
	r.claims = compile(r.Claims)
	r.qualifiers = compile(r.Qualifiers)
	r.phrases = compile(r.Phrases)
	return &r, nil
}

// RulesFromConfig compiles the configured rules.
func RulesFromConfig(cfg []config.ClaimRuleConf) ([]*Rule, error) {
	out := make([]*Rule, 0, len(cfg))
	seen := map[string]bool{}
	for _, rc := range cfg {
		if seen[rc.ID] {
			return nil, xerrors.Errorf("duplicate claim rule %s", rc.ID)
		}
		seen[rc.ID] = true
		r, err := NewRule(Rule{
			ID:         rc.ID,
			Kind:       Kind(rc.Kind),
			Severity:   gates.Status(rc.Severity),
			Section:    rc.Section,
			Claims:     rc.Claims,
			Qualifiers: rc.Qualifiers,
			Window:     rc.Window,
			Phrases:    rc.Phrases,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func firstMatch(ms []matcher, s string) (string, bool) {
	for _, m := range ms {
		if m.re.MatchString(s) {
			return m.phrase, true
		}
	}
	return "", false
}

func (r *Rule) applies(sec *Section) bool {
	return r.Section == "" || strings.Contains(Normalize(sec.Title), Normalize(r.Section))
}

// Evaluate returns every finding of the rule in doc, in document order.
func (r *Rule) Evaluate(doc *Document) []Finding {
	var out []Finding
	for _, sec := range doc.Sections {
		if !r.applies(sec) {
			continue
		}
		sentences := sec.Sentences()
		for i, s := range sentences {
			switch r.Kind {
			case ForbiddenPhrase:
				if m, ok := firstMatch(r.phrases, s.Norm); ok {
					out = append(out, Finding{Rule: r.ID, Severity: r.Severity, Section: sec.Title, Sentence: s.Text, Match: m})
				}
			case QualifierNearClaim:
				m, ok := firstMatch(r.claims, s.Norm)
				if !ok || r.qualified(sentences, i) {
					continue
				}
				out = append(out, Finding{Rule: r.ID, Severity: r.Severity, Section: sec.Title, Sentence: s.Text, Match: m})
			}
		}
	}
	return out
}

func (r *Rule) qualified(sentences []*Sentence, i int) bool {
	lo, hi := i-r.Window, i+r.Window
	if lo < 0 {
		lo = 0
	}
	if hi > len(sentences)-1 {
		hi = len(sentences) - 1
	}
	for j := lo; j <= hi; j++ {
		if _, ok := firstMatch(r.qualifiers, sentences[j].Norm); ok {
			return true
		}
	}
	return false
}

// EvaluateAll evaluates every rule against doc.
func EvaluateAll(rules []*Rule, doc *Document) []Finding {
	var out []Finding
	for _, r := range rules {
		out = append(out, r.Evaluate(doc)...)
	}
	return out
}
