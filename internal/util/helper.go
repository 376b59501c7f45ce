package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
// A nil src yields nil, so "no result" stays distinguishable from "empty result".
func CloneSlice[T any](src []T, cloneSize int) []T {
	if src == nil {
		return nil
	}
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}
