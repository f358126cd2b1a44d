package preview

import (
	"pkt.systems/sandview/schema"
)

// staticEntries are the markup files that make a tree previewable without
// any toolchain, checked in order.
var staticEntries = []string{"index.html", "public/index.html"}

// Detect classifies a workspace tree for preview generation. Manifest
// dependencies win by precedence: a server-rendered framework over a
// bundler, a bundler over a bare UI library. Trees without a matching
// dependency fall back to a static entry file, else are unsupported.
func Detect(tree schema.VirtualFileTree) schema.ProjectType {
	if raw, ok := tree.FileContent(schema.ManifestFile); ok {
		if manifest, err := schema.ParseManifest([]byte(raw)); err == nil {
			switch {
			case manifest.DependsOn("next"):
				return schema.ProjectNext
			case manifest.DependsOn("vite"):
				return schema.ProjectVite
			case manifest.DependsOn("react"):
				return schema.ProjectReact
			}
		}
	}
	if _, ok := StaticEntry(tree); ok {
		return schema.ProjectStatic
	}
	return schema.ProjectUnsupported
}

// StaticEntry returns the path of the static markup entry, if any.
func StaticEntry(tree schema.VirtualFileTree) (string, bool) {
	for _, entry := range staticEntries {
		if _, ok := tree.FileContent(entry); ok {
			return entry, true
		}
	}
	return "", false
}
