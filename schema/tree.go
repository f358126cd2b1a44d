package schema

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// NodeType distinguishes files from folders in the virtual tree.
type NodeType string

const (
	// NodeFile is a file node carrying content.
	NodeFile NodeType = "file"
	// NodeFolder is a folder node.
	NodeFolder NodeType = "folder"
)

// Node is one entry in the virtual file tree.
type Node struct {
	Name     string   `json:"name"`
	Type     NodeType `json:"type"`
	ParentID NodeID   `json:"parent_id,omitempty"`
	Content  string   `json:"content,omitempty"`
}

// VirtualFileTree is the editor's in-memory folder/file representation.
type VirtualFileTree struct {
	Nodes  map[NodeID]Node `json:"nodes"`
	RootID NodeID          `json:"root_id"`
}

// Validate checks the tree invariants: single root, acyclic, every non-root
// node's parent present in the map, names non-empty without separators.
func (t VirtualFileTree) Validate() error {
	if t.RootID == "" {
		return fmt.Errorf("%w: missing root id", ErrInvalidTree)
	}
	root, ok := t.Nodes[t.RootID]
	if !ok {
		return fmt.Errorf("%w: root %q not in node map", ErrInvalidTree, t.RootID)
	}
	if root.Type != NodeFolder {
		return fmt.Errorf("%w: root must be a folder", ErrInvalidTree)
	}
	if root.ParentID != "" {
		return fmt.Errorf("%w: root must not have a parent", ErrInvalidTree)
	}
	for id, node := range t.Nodes {
		if id == t.RootID {
			continue
		}
		if strings.TrimSpace(node.Name) == "" {
			return fmt.Errorf("%w: node %q has empty name", ErrInvalidTree, id)
		}
		if strings.ContainsAny(node.Name, "/\\") {
			return fmt.Errorf("%w: node %q name contains a path separator", ErrInvalidTree, id)
		}
		if node.ParentID == "" {
			return fmt.Errorf("%w: node %q is a second root", ErrInvalidTree, id)
		}
		if _, ok := t.Nodes[node.ParentID]; !ok {
			return fmt.Errorf("%w: node %q parent %q not in node map", ErrInvalidTree, id, node.ParentID)
		}
	}
	// Cycle check: every node must reach the root.
	for id := range t.Nodes {
		if _, err := t.pathOf(id); err != nil {
			return err
		}
	}
	return nil
}

// Entry is a flattened tree node with its workspace-relative path.
type Entry struct {
	Path    string
	Type    NodeType
	Content string
}

// Flatten returns all nodes except the root as workspace-relative entries,
// folders before files, each group sorted by path.
func (t VirtualFileTree) Flatten() ([]Entry, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var folders, files []Entry
	for id, node := range t.Nodes {
		if id == t.RootID {
			continue
		}
		rel, err := t.pathOf(id)
		if err != nil {
			return nil, err
		}
		entry := Entry{Path: rel, Type: node.Type, Content: node.Content}
		if node.Type == NodeFolder {
			folders = append(folders, entry)
		} else {
			files = append(files, entry)
		}
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Path < folders[j].Path })
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return append(folders, files...), nil
}

// FileContent returns the content of the file at the given relative path.
func (t VirtualFileTree) FileContent(rel string) (string, bool) {
	for id, node := range t.Nodes {
		if id == t.RootID || node.Type != NodeFile {
			continue
		}
		p, err := t.pathOf(id)
		if err != nil {
			continue
		}
		if p == path.Clean(rel) {
			return node.Content, true
		}
	}
	return "", false
}

func (t VirtualFileTree) pathOf(id NodeID) (string, error) {
	var parts []string
	seen := make(map[NodeID]bool)
	for id != t.RootID {
		if seen[id] {
			return "", fmt.Errorf("%w: cycle through node %q", ErrInvalidTree, id)
		}
		seen[id] = true
		node, ok := t.Nodes[id]
		if !ok {
			return "", fmt.Errorf("%w: dangling node %q", ErrInvalidTree, id)
		}
		parts = append([]string{node.Name}, parts...)
		id = node.ParentID
		if id == "" {
			return "", fmt.Errorf("%w: node chain detached from root", ErrInvalidTree)
		}
	}
	return path.Join(parts...), nil
}
