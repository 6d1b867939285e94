package state

import (
	"errors"
	"strconv"
	"strings"
)

// PathSeparator delimits segments of a state variable path.
const PathSeparator = "/"

// ErrPathNotFound is returned when a path segment cannot be resolved.
var ErrPathNotFound = errors.New("state path not found")

// Lookup walks path through root. Objects are indexed by key and arrays by
// integer index. A missing key, an index out of range, a non-integer index
// or a scalar in the middle of the path yields ErrPathNotFound.
func Lookup(root Value, path string) (Value, error) {
	current := root
	for _, segment := range strings.Split(path, PathSeparator) {
		switch node := current.(type) {
		case Object:
			next, ok := node[segment]
			if !ok {
				return nil, ErrPathNotFound
			}
			current = next
		case Array:
			idx, err := strconv.Atoi(segment)
			if err != nil {
				return nil, ErrPathNotFound
			}
			if idx < 0 {
				idx += len(node)
			}
			if idx < 0 || idx >= len(node) {
				return nil, ErrPathNotFound
			}
			current = node[idx]
		default:
			return nil, ErrPathNotFound
		}
	}
	if current == nil {
		return Null{}, nil
	}
	return current, nil
}
