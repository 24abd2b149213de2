package document

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoSuchKey is returned by the dotted-path accessors when a path
// component is missing, not indexable, or out of range.
var ErrNoSuchKey = errors.New("no such key")

// GetPath reads the value at a dotted path. Numeric components index into
// arrays; anything else on an array, or any component on a scalar, fails.
func GetPath(root any, path string) (any, error) {
	current := root
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case *Doc:
			v, ok := node.Get(part)
			if !ok {
				return nil, ErrNoSuchKey
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, ErrNoSuchKey
			}
			current = node[idx]
		default:
			return nil, ErrNoSuchKey
		}
	}
	return current, nil
}

// SetPath writes value at a dotted path. The parent must already exist; the
// leaf is assigned with the same step semantics as GetPath.
func SetPath(root *Doc, path string, value any) error {
	parent, leaf, err := walkToParent(root, path)
	if err != nil {
		return err
	}
	switch node := parent.(type) {
	case *Doc:
		node.Set(leaf, value)
	case []any:
		idx, err := strconv.Atoi(leaf)
		if err != nil || idx < 0 || idx >= len(node) {
			return ErrNoSuchKey
		}
		node[idx] = value
	default:
		return ErrNoSuchKey
	}
	return nil
}

// DeletePath removes the leaf at a dotted path. Only document parents
// support removal.
func DeletePath(root *Doc, path string) error {
	parent, leaf, err := walkToParent(root, path)
	if err != nil {
		return err
	}
	node, ok := parent.(*Doc)
	if !ok {
		return ErrNoSuchKey
	}
	if !node.Delete(leaf) {
		return ErrNoSuchKey
	}
	return nil
}

func walkToParent(root *Doc, path string) (any, string, error) {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return root, path, nil
	}
	parent, err := GetPath(root, path[:i])
	if err != nil {
		return nil, "", err
	}
	return parent, path[i+1:], nil
}
