// Package segment decides whether a lead currently qualifies for a
// campaign's audience. Pure predicate, no side effects.
package segment

import (
	"strconv"

	"github.com/brunoxkz/campaign-engine/internal/model"
)

// Qualifies evaluates the campaign's audience rule plus its optional
// variable filters against the lead. Filters are conjunctive; a filter
// referencing a variable the lead does not have fails closed.
func Qualifies(c *model.Campaign, l *model.Lead) bool {
	switch c.Audience {
	case model.AudienceAll:
		// always matches
	case model.AudienceCompleted:
		if l.Status != model.FunnelCompleted {
			return false
		}
	case model.AudienceAbandoned:
		if l.Status != model.FunnelAbandoned {
			return false
		}
	default:
		return false
	}

	for _, f := range c.Filters {
		if !Matches(f, l.Variables) {
			return false
		}
	}
	return true
}

// Matches evaluates a single filter against a variable set. Unknown
// operators and absent variables never match.
func Matches(f model.Filter, vars map[string]string) bool {
	val, ok := vars[f.Variable]
	if !ok {
		return false
	}

	switch f.Op {
	case "eq", "":
		return val == f.Value
	case "gte":
		a, b, ok := numericPair(val, f.Value)
		return ok && a >= b
	case "lte":
		a, b, ok := numericPair(val, f.Value)
		return ok && a <= b
	}
	return false
}

func numericPair(a, b string) (float64, float64, bool) {
	av, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, false
	}
	bv, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, 0, false
	}
	return av, bv, true
}
