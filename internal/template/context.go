package template

// MergeContexts flattens a sequence of template contexts into one map.
// Later contexts win on key collisions, so callers pass narrower overlays
// (e.g. a service-scoped "service" key) after the broader base context.
func MergeContexts(contexts ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for _, ctx := range contexts {
		for key, value := range ctx {
			result[key] = value
		}
	}

	return result
}
