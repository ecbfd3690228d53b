// Package treestore provides path-addressed access to the hierarchical
// key-value store that holds all platform data. Paths are slash-delimited
// ("University Data/Inboxes/...") and a read at any path returns a snapshot
// of the whole subtree below it.
package treestore

import (
	"context"
	"strings"
)

// Node is a point-in-time snapshot of a subtree. A leaf decodes as a JSON
// scalar (string, float64 or bool); an interior node is a map of child name
// to Node. A nil Node means no data exists at the path.
type Node any

// Store is the client interface every component receives. Absence of data
// is reported as a nil Node, never as an error.
type Store interface {
	// Get returns the subtree rooted at path.
	Get(ctx context.Context, path string) (Node, error)
	// Set writes a scalar leaf or a nested map of leaves at path,
	// replacing any existing subtree there.
	Set(ctx context.Context, path string, value any) error
	// Subscribe registers fn to run once immediately and again whenever
	// anything at or under path changes. The returned function releases
	// the watch.
	Subscribe(path string, fn func()) (func(), error)
	Ping(ctx context.Context) error
	Close() error
}

// Join builds a slash-delimited path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Children returns the child map of an interior node, or nil for leaves
// and absent nodes.
func Children(n Node) map[string]Node {
	m, _ := n.(map[string]Node)
	return m
}

// String returns the value of a string leaf, or "" for anything else.
func String(n Node) string {
	s, _ := n.(string)
	return s
}

// Int returns the value of a numeric leaf, or 0 for anything else. JSON
// numbers decode as float64.
func Int(n Node) int {
	switch v := n.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// insertLeaf places a leaf value into a nested child map, creating
// intermediate nodes along the relative path.
func insertLeaf(root map[string]Node, rel string, value Node) {
	parts := strings.Split(rel, "/")
	m := root
	for i, part := range parts {
		if i == len(parts)-1 {
			m[part] = value
			return
		}
		child, ok := m[part].(map[string]Node)
		if !ok {
			child = map[string]Node{}
			m[part] = child
		}
		m = child
	}
}

// pathsOverlap reports whether a change at changed is visible to a watch
// on watched: identical paths, a change below the watch, or a subtree
// write above it.
func pathsOverlap(changed, watched string) bool {
	return changed == watched ||
		strings.HasPrefix(changed, watched+"/") ||
		strings.HasPrefix(watched, changed+"/")
}

// flatten expands a Set value into leaf writes relative to the root path.
// Scalars map to a single leaf at the root itself.
func flatten(root string, value any, out map[string]any) {
	if m, ok := value.(map[string]any); ok {
		for name, child := range m {
			flatten(root+"/"+name, child, out)
		}
		return
	}
	out[root] = value
}
