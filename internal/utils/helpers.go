package utils

// SliceToSet converts a slice of any comparable type to a set represented by a map[T]struct{}.
func SliceToSet[T comparable](slice []T) map[T]struct{} {
	set := make(map[T]struct{}, len(slice))
	for _, item := range slice {
		set[item] = struct{}{}
	}
	return set
}

// Unique returns the distinct non-zero items of slice in first-seen order.
func Unique[T comparable](slice []T) []T {
	var zero T
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, item := range slice {
		if item == zero {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
