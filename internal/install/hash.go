package install

import (
	"crypto/sha256"
	"encoding/hex"
)

// ManifestHash fingerprints the dependency inputs: the manifest plus the
// lockfile when one exists. A changed hash means a reinstall is due.
func ManifestHash(manifest, lockfile []byte) string {
	h := sha256.New()
	h.Write(manifest)
	h.Write([]byte{0})
	h.Write(lockfile)
	return hex.EncodeToString(h.Sum(nil))
}
