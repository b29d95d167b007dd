package core

// Member combines the rule results for one product under the set's match
// policy.
//
// An empty rule list is vacuously true under MatchAll (no constraints means
// everything qualifies) and false under MatchAny (no rule can be satisfied).
// Evaluation short-circuits; rule order never changes the outcome.
func (rs RuleSet) Member(p Product) bool {
	switch rs.Policy {
	case MatchAny:
		for _, r := range rs.Rules {
			if Matches(p, r) {
				return true
			}
		}
		return false
	case MatchAll:
		for _, r := range rs.Rules {
			if !Matches(p, r) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
