// Package document reads the JSON documents written by the CLI and
// resolves their shape into a flat list of tree entries.
package document

import (
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/wesm/ctxview/internal/tree"
)

// ErrMalformed is wrapped by every error caused by a document whose
// syntax or top-level shape is unusable.
var ErrMalformed = errors.New("malformed document")

// ReadFile loads the entry list of one document. A missing file is
// not an error: the CLI may simply not have produced it yet.
func ReadFile(path string) ([]tree.Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Parse resolves a document into entries. Three shapes are
// accepted: a bare array of entry objects, an object with a
// "changes" array, or an object whose only array-valued field holds
// the entries. Entries without a usable string filePath are dropped.
func Parse(data []byte) ([]tree.Entry, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON: %w", ErrMalformed)
	}
	list, err := entryList(gjson.ParseBytes(data))
	if err != nil {
		return nil, err
	}

	entries := make([]tree.Entry, 0, len(list))
	for _, item := range list {
		if e, ok := parseEntry(item); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func entryList(root gjson.Result) ([]gjson.Result, error) {
	switch {
	case root.IsArray():
		return root.Array(), nil
	case root.IsObject():
		if changes := root.Get("changes"); changes.Exists() {
			if !changes.IsArray() {
				return nil, fmt.Errorf(
					"changes is not an array: %w", ErrMalformed,
				)
			}
			return changes.Array(), nil
		}
		var arrays []gjson.Result
		root.ForEach(func(_, v gjson.Result) bool {
			if v.IsArray() {
				arrays = append(arrays, v)
			}
			return true
		})
		if len(arrays) != 1 {
			return nil, fmt.Errorf(
				"object has %d entry arrays, want 1: %w",
				len(arrays), ErrMalformed,
			)
		}
		return arrays[0].Array(), nil
	default:
		return nil, fmt.Errorf(
			"top-level %s, want array or object: %w",
			root.Type, ErrMalformed,
		)
	}
}

func parseEntry(item gjson.Result) (tree.Entry, bool) {
	if !item.IsObject() {
		return tree.Entry{}, false
	}
	fp := item.Get("filePath")
	if fp.Type != gjson.String {
		return tree.Entry{}, false
	}
	var content string
	if c := item.Get("content"); c.Type == gjson.String {
		content = c.Str
	}
	return tree.NewEntry(fp.Str, content)
}
