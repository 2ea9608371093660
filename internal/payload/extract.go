package payload

import "strings"

// Lookup walks a dot-delimited path through nested objects. It fails when a
// segment is missing or when an intermediate node is not an object.
func Lookup(root Value, path string) (Value, bool) {
	current := root
	for _, key := range strings.Split(path, ".") {
		next, ok := current.Field(key)
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return current, true
}

// Extract resolves path and converts the leaf to a number. ok is false when
// the path is absent or the leaf is not numeric.
func Extract(root Value, path string) (value float64, ok bool) {
	leaf, found := Lookup(root, path)
	if !found {
		return 0, false
	}
	return leaf.Float()
}
