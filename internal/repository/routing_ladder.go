package repository

import (
	"fmt"
	"sort"
)

// ThresholdBand routes amounts at or above Threshold to TemplateID, up to the
// next band's threshold.
type ThresholdBand struct {
	Threshold  float64
	TemplateID string
}

// ThresholdLadder turns ordered bands into one rule per band covering the
// half-open range [threshold, next threshold). The last band is unbounded.
// Bands are sorted by threshold first, so callers may list them in any order.
// The result maps template ID to the rules that route to it.
func ThresholdLadder(field string, bands []ThresholdBand) map[string][]RoutingRule {
	sorted := append([]ThresholdBand(nil), bands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	out := make(map[string][]RoutingRule, len(sorted))
	for i, band := range sorted {
		rule := RoutingRule{
			Name:       fmt.Sprintf("%s>=%g", field, band.Threshold),
			Conditions: []Condition{ThresholdRule{Field: field, Op: OpGTE, Value: band.Threshold}},
		}
		if i+1 < len(sorted) {
			next := sorted[i+1].Threshold
			rule.Name = fmt.Sprintf("%s in [%g,%g)", field, band.Threshold, next)
			rule.Conditions = append(rule.Conditions, ThresholdRule{Field: field, Op: OpLT, Value: next})
		}
		out[band.TemplateID] = append(out[band.TemplateID], rule)
	}
	return out
}
