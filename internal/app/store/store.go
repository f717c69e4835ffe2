// Package store persists one mutable game record per host. Writes are
// expressed as dotted-path updates and applied atomically in one batch;
// readers always see either the full previous record or the full new one.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tambola-live/engine/internal/game"
)

var ErrNoWrites = errors.New("batch write requires at least one path")

// Store is the persistence boundary of the command processor.
// BatchWrite must be atomic across every path in the call.
type Store interface {
	Snapshot(ctx context.Context, hostID string) (game.State, bool, error)
	BatchWrite(ctx context.Context, hostID string, writes map[string]any) error
}

// ApplyWrites returns a copy of doc with every dotted-path write applied.
// A nil value deletes the path. Intermediate objects are created on demand.
func ApplyWrites(doc map[string]any, writes map[string]any) (map[string]any, error) {
	if len(writes) == 0 {
		return nil, ErrNoWrites
	}

	next, err := deepCopy(doc)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(writes))
	for path := range writes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		segments := strings.Split(path, ".")
		if err := applyOne(next, segments, writes[path]); err != nil {
			return nil, fmt.Errorf("path %q: %w", path, err)
		}
	}
	return next, nil
}

func applyOne(doc map[string]any, segments []string, value any) error {
	if len(segments) == 0 || segments[0] == "" {
		return errors.New("empty path segment")
	}

	cursor := doc
	for _, segment := range segments[:len(segments)-1] {
		child, ok := cursor[segment]
		if !ok || child == nil {
			created := map[string]any{}
			cursor[segment] = created
			cursor = created
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("segment %q is not an object", segment)
		}
		cursor = childMap
	}

	leaf := segments[len(segments)-1]
	if value == nil {
		delete(cursor, leaf)
		return nil
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}
	cursor[leaf] = normalized
	return nil
}

// normalize converts an arbitrary Go value into its JSON document form so
// snapshots decode identically regardless of which implementation stored it.
func normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

func deepCopy(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return map[string]any{}, nil
	}
	copied, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	asMap, ok := copied.(map[string]any)
	if !ok {
		return nil, errors.New("document is not an object")
	}
	return asMap, nil
}

// decodeState turns a stored document into a typed snapshot.
func decodeState(doc map[string]any) (game.State, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return game.State{}, err
	}
	var state game.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return game.State{}, err
	}
	return state, nil
}
