package canon

// Clone returns a deep copy of a generic value tree. Containers reached more
// than once (shared or self-referencing) are copied once, and every later
// reference points at that copy, so cyclic input terminates.
func Clone(v any) any {
	c := cloner{maps: make(map[identity]map[string]any), slices: make(map[identity][]any)}
	return c.clone(v)
}

// CloneMap is Clone for the common object-rooted case.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := Clone(m).(map[string]any)
	return out
}

type cloner struct {
	maps   map[identity]map[string]any
	slices map[identity][]any
}

func (c *cloner) clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		id := identityOf(val)
		if done, ok := c.maps[id]; ok {
			return done
		}
		out := make(map[string]any, len(val))
		c.maps[id] = out
		for k, item := range val {
			out[k] = c.clone(item)
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		id := identityOf(val)
		if done, ok := c.slices[id]; ok && len(val) > 0 {
			return done
		}
		out := make([]any, len(val))
		c.slices[id] = out
		for i, item := range val {
			out[i] = c.clone(item)
		}
		return out
	case map[any]any:
		return c.clone(stringKeys(val))
	default:
		return v
	}
}
