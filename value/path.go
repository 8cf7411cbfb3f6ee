package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/graphmesh/errors"
)

// Path segments are dot-separated. A numeric segment indexes into an array;
// any other segment keys into an object. Setting through a missing segment
// creates intermediate objects; setting through a non-container fails.

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrPathError, "Value", "splitPath", "empty path")
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, errors.WrapInvalid(errors.ErrPathError, "Value", "splitPath", "empty path segment")
		}
	}
	return segments, nil
}

func arrayIndex(seg string) (int, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// Peek returns a reference to the value at the dotted path without copying,
// or nil if any segment is absent.
func (v *Value) Peek(path string) *Value {
	segments, err := splitPath(path)
	if err != nil {
		return nil
	}
	cur := v
	for _, seg := range segments {
		if cur == nil {
			return nil
		}
		switch cur.typ {
		case TypeObject:
			cur = cur.obj.get(seg)
		case TypeArray:
			idx, ok := arrayIndex(seg)
			if !ok || idx >= len(cur.arr) {
				return nil
			}
			cur = cur.arr[idx]
		default:
			return nil
		}
	}
	return cur
}

// Get returns a deep clone of the value at the dotted path, or nil if any
// segment is absent. The clone shares no mutable state with the tree.
func (v *Value) Get(path string) *Value {
	found := v.Peek(path)
	if found == nil {
		return nil
	}
	return found.Clone()
}

// Delete removes the value at the dotted path. Deleting a path whose
// parent is absent or not a container fails with a path error; deleting
// an absent key under a present object is a no-op, while an out-of-range
// index under an array fails with a path error.
func (v *Value) Delete(path string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}

	parent := v
	if len(segments) > 1 {
		parent = v.Peek(strings.Join(segments[:len(segments)-1], "."))
	}
	if parent == nil {
		return errors.WrapInvalid(errors.ErrPathError, "Value", "Delete",
			fmt.Sprintf("parent of %q is absent", path))
	}

	leaf := segments[len(segments)-1]
	switch parent.typ {
	case TypeObject:
		parent.obj.delete(leaf)
		return nil
	case TypeArray:
		idx, ok := arrayIndex(leaf)
		if !ok || idx >= len(parent.arr) {
			return errors.WrapInvalid(errors.ErrPathError, "Value", "Delete",
				fmt.Sprintf("index %q out of range", leaf))
		}
		parent.arr = append(parent.arr[:idx], parent.arr[idx+1:]...)
		return nil
	default:
		return errors.WrapInvalid(errors.ErrPathError, "Value", "Delete",
			fmt.Sprintf("parent of %q is not a container", path))
	}
}

// Set places val at the dotted path, creating intermediate objects as
// needed. A numeric segment indexes into an array; index len(array) appends.
// Setting through a non-container segment fails with a path error.
func (v *Value) Set(path string, val *Value) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}

	cur := v
	for i, seg := range segments {
		last := i == len(segments)-1

		switch cur.typ {
		case TypeObject:
			if last {
				cur.obj.set(seg, val)
				return nil
			}
			next := cur.obj.get(seg)
			if next == nil {
				next = NewObject()
				cur.obj.set(seg, next)
			}
			cur = next

		case TypeArray:
			idx, ok := arrayIndex(seg)
			if !ok {
				return errors.WrapInvalid(errors.ErrPathError, "Value", "Set",
					fmt.Sprintf("non-numeric segment %q into array", seg))
			}
			if idx > len(cur.arr) {
				return errors.WrapInvalid(errors.ErrPathError, "Value", "Set",
					fmt.Sprintf("index %d out of range", idx))
			}
			if last {
				if idx == len(cur.arr) {
					cur.arr = append(cur.arr, val)
				} else {
					cur.arr[idx] = val
				}
				return nil
			}
			if idx == len(cur.arr) {
				next := NewObject()
				cur.arr = append(cur.arr, next)
				cur = next
			} else {
				cur = cur.arr[idx]
			}

		default:
			return errors.WrapInvalid(errors.ErrPathError, "Value", "Set",
				fmt.Sprintf("segment %q traverses non-container %s", seg, cur.typ))
		}
	}
	return nil
}
