package voice

import "strings"

// candidateModels builds the ordered, de-duplicated list of model identifiers
// to try for one request: the per-request override first (if given), then the
// persisted preferred model (if set), then the configured fallback list.
// Duplicates are removed preserving first-seen order; blank entries are
// skipped.
func candidateModels(override, preferred string, fallbacks []string) []string {
	seen := make(map[string]struct{}, len(fallbacks)+2)
	out := make([]string, 0, len(fallbacks)+2)

	add := func(model string) {
		model = strings.TrimSpace(model)
		if model == "" {
			return
		}
		if _, ok := seen[model]; ok {
			return
		}
		seen[model] = struct{}{}
		out = append(out, model)
	}

	add(override)
	add(preferred)
	for _, m := range fallbacks {
		add(m)
	}
	return out
}
