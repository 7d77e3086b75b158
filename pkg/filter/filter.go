// Package filter decides which killmails are worth an alert.
package filter

import "github.com/hervehildenbrand/kill-radar/pkg/models"

// Criteria configures every filter in the chain.
type Criteria struct {
	// MaxSecurity drops kills in systems with security status >= MaxSecurity.
	MaxSecurity float64

	// ExcludedCorporations drops kills involving any of these corporations.
	ExcludedCorporations map[int32]struct{}

	// CheckVictim also applies ExcludedCorporations to the victim.
	CheckVictim bool

	// ExcludedShipTypes drops kills whose victim flew one of these types.
	ExcludedShipTypes map[int32]struct{}
}

// NewCriteria builds Criteria from plain id lists.
func NewCriteria(maxSecurity float64, corporations []int32, checkVictim bool, shipTypes []int32) Criteria {
	return Criteria{
		MaxSecurity:          maxSecurity,
		ExcludedCorporations: toSet(corporations),
		CheckVictim:          checkVictim,
		ExcludedShipTypes:    toSet(shipTypes),
	}
}

func toSet(ids []int32) map[int32]struct{} {
	set := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Input is what the filters look at for one kill.
type Input struct {
	Killmail       *models.Killmail
	SecurityStatus float64
}

// Verdict is the outcome of a filter. Reason is set whenever Keep is false.
type Verdict struct {
	Keep   bool
	Reason string
}

// Func is a single admission rule.
type Func func(in Input, c Criteria) Verdict

// Rule names a filter for logs and metrics.
type Rule struct {
	Name  string
	Apply Func
}

var keep = Verdict{Keep: true}

// Engine runs rules in order and stops at the first drop.
type Engine struct {
	criteria Criteria
	rules    []Rule
}

// NewEngine creates an engine with the default rule order:
// security, organization, category.
func NewEngine(c Criteria) *Engine {
	return &Engine{criteria: c, rules: DefaultRules()}
}

// DefaultRules returns the rules in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: RuleSecurity, Apply: Security},
		{Name: RuleOrganization, Apply: Organization},
		{Name: RuleCategory, Apply: Category},
	}
}

// Evaluate returns the first dropping verdict, or a keep verdict, together
// with the name of the rule that decided.
func (e *Engine) Evaluate(in Input) (Verdict, string) {
	for _, rule := range e.rules {
		if v := rule.Apply(in, e.criteria); !v.Keep {
			return v, rule.Name
		}
	}
	return keep, ""
}

// Criteria returns the configured criteria.
func (e *Engine) Criteria() Criteria {
	return e.criteria
}
