package session

import (
	"github.com/meshcompute/signaling/internal/v1/registry"
)

// matchesFilter evaluates every declared filter clause conjunctively
// against one live peer. An empty filter matches everything.
func matchesFilter(p *registry.Peer, f *DiscoveryFilter) bool {
	if f.Role != "" && p.Role != f.Role {
		return false
	}
	if len(f.Tags) > 0 && !tagsIntersect(peerTags(p.Metadata), f.Tags) {
		return false
	}
	if len(f.Properties) > 0 && !propertiesMatch(peerProperties(p.Metadata), f.Properties) {
		return false
	}
	return true
}

func peerTags(metadata map[string]any) []string {
	raw, ok := metadata["tags"]
	if !ok {
		return nil
	}
	return toStringSlice(raw)
}

func peerProperties(metadata map[string]any) map[string]any {
	raw, ok := metadata["properties"]
	if !ok {
		return nil
	}
	props, _ := raw.(map[string]any)
	return props
}

// tagsIntersect is any-match: one shared tag satisfies the clause.
func tagsIntersect(peerTags, filterTags []string) bool {
	if len(peerTags) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(peerTags))
	for _, t := range peerTags {
		set[t] = struct{}{}
	}
	for _, t := range filterTags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// propertiesMatch requires every filter pair to hold. A pair is either a
// scalar equality or an operator document ($gte, $lte, $eq). A property the
// peer does not carry never matches.
func propertiesMatch(props, filter map[string]any) bool {
	for key, want := range filter {
		have, ok := props[key]
		if !ok {
			return false
		}
		if opDoc, isOp := want.(map[string]any); isOp {
			if !operatorMatch(have, opDoc) {
				return false
			}
			continue
		}
		if !valuesEqual(have, want) {
			return false
		}
	}
	return true
}

func operatorMatch(have any, ops map[string]any) bool {
	for op, operand := range ops {
		switch op {
		case "$eq":
			if !valuesEqual(have, operand) {
				return false
			}
		case "$gte":
			hn, ho := toFloat(have)
			on, oo := toFloat(operand)
			if !ho || !oo || hn < on {
				return false
			}
		case "$lte":
			hn, ho := toFloat(have)
			on, oo := toFloat(operand)
			if !ho || !oo || hn > on {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// valuesEqual compares scalars with numeric coercion, since JSON decoding
// yields float64 for every number.
func valuesEqual(a, b any) bool {
	if an, aok := toFloat(a); aok {
		bn, bok := toFloat(b)
		return bok && an == bn
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
