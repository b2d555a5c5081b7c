package main

// hasExclusion applies the measure's diagnosis-based exclusion rule to the
// member's active conditions. Claims are never consulted.
func hasExclusion(m *Member, def *MeasureDefinition) bool {
	rule := def.Exclusions
	if rule.empty() {
		return false
	}

	threshold := rule.PartialThreshold
	if threshold <= 0 {
		threshold = 2
	}

	partial := map[string]bool{}
	for _, condition := range m.Conditions {
		if !condition.isActive() {
			continue
		}

		// Any one full exclusion is enough
		if _, ok := rule.Full.matchesAny(condition.Code); ok {
			return true
		}

		// Partial exclusions count once per matching code on each record, so
		// one record coding both sides counts twice but a repeated record
		// does not
		for _, code := range condition.Code.Codes() {
			if !rule.Partial.matches(code) {
				continue
			}
			partial[condition.dedupeKey()+"|"+normalizeCode(code)] = true
			if len(partial) >= threshold {
				return true
			}
		}
	}

	return false
}
