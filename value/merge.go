package value

// DeepMerge merges patch into base key by key (keys are taken literally,
// not split on dots), recursing into nested maps and replacing (never
// appending to) lists and scalars. base is mutated in place and returned;
// pass Clone(base) first if the caller still needs the pre-merge snapshot.
//
// updateContext (spec.md §4.4) applies MergeAt once per assign entry, so a
// dotted ctxPath lands at its nested location; MergeAt uses DeepMerge for
// map-valued entries.
func DeepMerge(base, patch map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	for k, pv := range patch {
		if bv, ok := base[k]; ok {
			bm, bIsMap := bv.(map[string]any)
			pm, pIsMap := pv.(map[string]any)
			if bIsMap && pIsMap {
				base[k] = DeepMerge(bm, pm)
				continue
			}
		}
		base[k] = Clone(pv)
	}
	return base
}

// MergeAt deep-merges patch into the map found at the dotted path within
// root (creating it if absent) and returns root. This backs assign clauses
// whose ctxPath is itself nested, e.g. "contact" receiving
// {"name": ..., "phone": ...}.
func MergeAt(root map[string]any, path string, patch any) map[string]any {
	if path == "" {
		if pm, ok := patch.(map[string]any); ok {
			return DeepMerge(root, pm)
		}
		return root
	}
	pm, isMap := patch.(map[string]any)
	if !isMap {
		return Set(root, path, patch)
	}
	existing, _ := Get(root, path)
	existingMap, _ := existing.(map[string]any)
	merged := DeepMerge(existingMap, pm)
	return Set(root, path, merged)
}
