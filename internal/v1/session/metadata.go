package session

// mergeMetadata applies the metadata merge policy: tags union, properties
// shallow-merge with new keys winning, and every other top-level key
// replaced wholesale. The inputs are not mutated.
func mergeMetadata(current, update map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(update))
	for k, v := range current {
		merged[k] = v
	}

	for k, v := range update {
		switch k {
		case "tags":
			merged[k] = unionTags(toStringSlice(current[k]), toStringSlice(v))
		case "properties":
			merged[k] = mergeProperties(peerProperties(current), v)
		default:
			merged[k] = v
		}
	}
	return merged
}

func unionTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	union := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			union = append(union, t)
		}
	}
	for _, t := range incoming {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			union = append(union, t)
		}
	}
	return union
}

func mergeProperties(existing map[string]any, incoming any) map[string]any {
	newProps, _ := incoming.(map[string]any)
	merged := make(map[string]any, len(existing)+len(newProps))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range newProps {
		merged[k] = v
	}
	return merged
}
