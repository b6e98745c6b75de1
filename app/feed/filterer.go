package feed

import (
	"fmt"
	"strings"
)

type RuleKind string

const (
	RuleExcludeTitleWords        RuleKind = "exclude_title_words"
	RuleExcludeContentWords      RuleKind = "exclude_content_words"
	RuleExcludeSubstrings        RuleKind = "exclude_substrings"
	RuleExcludeTags              RuleKind = "exclude_tags"
	RuleExcludeField             RuleKind = "exclude_field"
	RuleMustIncludeSubstrings    RuleKind = "must_include_substrings"
	RuleMustIncludeAllSubstrings RuleKind = "must_include_all_substrings"
	RuleIncludeTags              RuleKind = "include_tags"
	RuleIncludeField             RuleKind = "include_field"
)

var validFields = map[string]bool{
	"title":       true,
	"description": true,
	"content":     true,
	"authors":     true,
	"link":        true,
	"categories":  true,
	"tags":        true,
}

// Rule is a compiled predicate over an entry. Terms are stored folded.
type Rule struct {
	Kind  RuleKind
	Field string
	Terms []string
}

func NewRule(kind RuleKind, field string, terms []string) (Rule, error) {
	rule := Rule{Kind: kind, Field: field}

	switch kind {
	case RuleExcludeField, RuleIncludeField:
		if !validFields[field] {
			return Rule{}, fmt.Errorf("invalid filter field: %s", field)
		}
	case RuleExcludeTitleWords, RuleExcludeContentWords, RuleExcludeSubstrings, RuleExcludeTags,
		RuleMustIncludeSubstrings, RuleMustIncludeAllSubstrings, RuleIncludeTags:
	default:
		return Rule{}, fmt.Errorf("unknown rule kind: %s", kind)
	}

	if len(terms) == 0 {
		return Rule{}, fmt.Errorf("rule %s has no terms", kind)
	}

	for _, term := range terms {
		var normalized string
		switch kind {
		case RuleExcludeTags, RuleIncludeTags:
			normalized = NormalizeTag(term)
		default:
			normalized = Fold(strings.TrimSpace(term))
		}

		if normalized == "" {
			return Rule{}, fmt.Errorf("rule %s has an empty term", kind)
		}
		if (kind == RuleExcludeTitleWords || kind == RuleExcludeContentWords) && len(strings.Fields(normalized)) > 1 {
			return Rule{}, fmt.Errorf("rule %s expects single words, got %q", kind, term)
		}

		rule.Terms = append(rule.Terms, normalized)
	}

	return rule, nil
}

func (r Rule) Exclusion() bool {
	switch r.Kind {
	case RuleExcludeTitleWords, RuleExcludeContentWords, RuleExcludeSubstrings, RuleExcludeTags, RuleExcludeField:
		return true
	default:
		return false
	}
}

// Match reports whether the rule predicate holds for e and the term that
// decided it.
func (r Rule) Match(e *Entry) (bool, string) {
	switch r.Kind {
	case RuleExcludeTitleWords:
		return matchWord(e.titleWords, r.Terms)
	case RuleExcludeContentWords:
		return matchWord(e.contentWords, r.Terms)
	case RuleExcludeSubstrings, RuleMustIncludeSubstrings:
		for _, term := range r.Terms {
			if strings.Contains(e.foldedTitle, term) || strings.Contains(e.foldedContent, term) {
				return true, term
			}
		}
	case RuleMustIncludeAllSubstrings:
		for _, term := range r.Terms {
			if !strings.Contains(e.foldedTitle, term) && !strings.Contains(e.foldedContent, term) {
				return false, ""
			}
		}
		return true, strings.Join(r.Terms, "+")
	case RuleExcludeTags, RuleIncludeTags:
		for _, term := range r.Terms {
			if e.HasTag(term) {
				return true, term
			}
		}
	case RuleExcludeField, RuleIncludeField:
		value := fieldValue(e, r.Field)
		for _, term := range r.Terms {
			if strings.Contains(value, term) {
				return true, term
			}
		}
	}

	return false, ""
}

func matchWord(set map[string]struct{}, terms []string) (bool, string) {
	for _, term := range terms {
		if _, ok := set[term]; ok {
			return true, term
		}
	}
	return false, ""
}

func fieldValue(e *Entry, field string) string {
	switch field {
	case "title":
		return e.foldedTitle
	case "description", "content":
		return e.foldedContent
	case "authors":
		return Fold(e.Author)
	case "link":
		return Fold(e.Link)
	case "categories", "tags":
		return strings.Join(e.Tags, " ")
	default:
		return ""
	}
}

type ScopeLevel string

const (
	ScopeGlobal ScopeLevel = "global"
	ScopeAll    ScopeLevel = "all"
	ScopeFeed   ScopeLevel = "feed"
)

// Scope is an ordered rule list attached to one level of the feed graph.
type Scope struct {
	Level ScopeLevel
	Name  string
	Rules []Rule
}

func (s Scope) Empty() bool {
	return len(s.Rules) == 0
}

func (s Scope) HasInclusions() bool {
	for _, rule := range s.Rules {
		if !rule.Exclusion() {
			return true
		}
	}
	return false
}

// CompileScope turns named rule lists and field filters into a Scope. Named
// rules come first, field filters follow in declaration order.
func CompileScope(level ScopeLevel, name string, rules ConfigRules, filters []ConfigFilter) (Scope, error) {
	scope := Scope{Level: level, Name: name}

	named := []struct {
		kind  RuleKind
		terms []string
	}{
		{RuleExcludeTitleWords, rules.ExcludeTitleWords},
		{RuleExcludeContentWords, rules.ExcludeContentWords},
		{RuleExcludeSubstrings, rules.ExcludeSubstrings},
		{RuleExcludeTags, rules.ExcludeTags},
		{RuleMustIncludeSubstrings, rules.MustIncludeSubstrings},
		{RuleMustIncludeAllSubstrings, rules.MustIncludeAllSubstrings},
		{RuleIncludeTags, rules.IncludeTags},
	}

	for _, n := range named {
		if len(n.terms) == 0 {
			continue
		}
		rule, err := NewRule(n.kind, "", n.terms)
		if err != nil {
			return Scope{}, err
		}
		scope.Rules = append(scope.Rules, rule)
	}

	for i, filter := range filters {
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return Scope{}, fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
		if len(filter.Excludes) > 0 {
			rule, err := NewRule(RuleExcludeField, filter.Field, filter.Excludes)
			if err != nil {
				return Scope{}, fmt.Errorf("filter at index %d: %w", i, err)
			}
			scope.Rules = append(scope.Rules, rule)
		}
		if len(filter.Includes) > 0 {
			rule, err := NewRule(RuleIncludeField, filter.Field, filter.Includes)
			if err != nil {
				return Scope{}, fmt.Errorf("filter at index %d: %w", i, err)
			}
			scope.Rules = append(scope.Rules, rule)
		}
	}

	return scope, nil
}

type Verdict struct {
	Passed bool
	Reason string
}

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Evaluate checks e against scopes given outermost first. Any matching
// exclusion drops the entry. Every scope that declares inclusion rules must
// then admit the entry through at least one of its own inclusion rules.
func (f *Filterer) Evaluate(e *Entry, scopes ...Scope) Verdict {
	for _, scope := range scopes {
		for _, rule := range scope.Rules {
			if !rule.Exclusion() {
				continue
			}
			if matched, term := rule.Match(e); matched {
				return Verdict{Reason: fmt.Sprintf("Excluded by %s %s rule: matches '%s'", scope.Level, rule.Kind, term)}
			}
		}
	}

	for _, scope := range scopes {
		if !scope.HasInclusions() {
			continue
		}

		admitted := false
		for _, rule := range scope.Rules {
			if rule.Exclusion() {
				continue
			}
			if matched, _ := rule.Match(e); matched {
				admitted = true
				break
			}
		}
		if !admitted {
			return Verdict{Reason: fmt.Sprintf("Excluded by %s scope: no inclusion rule matched", scope.Level)}
		}
	}

	return Verdict{Passed: true}
}

// Run keeps the entries that pass every scope and returns how many were dropped.
func (f *Filterer) Run(entries []*Entry, scopes ...Scope) ([]*Entry, int) {
	if len(scopes) == 0 {
		return entries, 0
	}

	kept := make([]*Entry, 0, len(entries))
	dropped := 0
	for _, e := range entries {
		if f.Evaluate(e, scopes...).Passed {
			kept = append(kept, e)
		} else {
			dropped++
		}
	}

	return kept, dropped
}
