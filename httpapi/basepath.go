package httpapi

import "strings"

// normalizeBasePath canonicalizes the mount path: one leading slash, no
// trailing slash, empty when the API is mounted at the root.
func normalizeBasePath(value string) string {
	path := strings.TrimSpace(value)
	if path == "" || path == "/" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimRight(path, "/")
	if path == "/" {
		return ""
	}
	return path
}

// publicBase joins the advertised base URL and mount path into the prefix
// that server-relative paths (preview blobs) are published under. Empty
// when neither is configured, in which case paths stay server-relative.
func publicBase(baseURL, basePath string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return base + normalizeBasePath(basePath)
}
