package schema

import (
	"encoding/json"
	"fmt"
)

// ManifestFile is the project manifest name every supported package
// manager shares.
const ManifestFile = "package.json"

// Lockfile names by manager, used both for hashing and for strict installs.
var Lockfiles = map[PackageManager]string{
	ManagerNpm:  "package-lock.json",
	ManagerPnpm: "pnpm-lock.yaml",
	ManagerYarn: "yarn.lock",
	ManagerBun:  "bun.lockb",
}

// Manifest is the subset of package.json the orchestrator acts on.
type Manifest struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// ParseManifest decodes a package.json payload.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return m, nil
}

// HasScript reports whether the manifest declares the named script.
func (m Manifest) HasScript(name string) bool {
	_, ok := m.Scripts[name]
	return ok
}

// DependsOn reports whether the package appears in dependencies or
// devDependencies.
func (m Manifest) DependsOn(pkg string) bool {
	if _, ok := m.Dependencies[pkg]; ok {
		return true
	}
	_, ok := m.DevDependencies[pkg]
	return ok
}
