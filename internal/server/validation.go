package server

import (
	"path/filepath"
	"strings"
)

const (
	platformAndroid = "android"
	platformIOS     = "ios"
)

// classifyPlatform derives the platform from the upload's file extension.
// Only ".apk" maps to android; every other extension is treated as an iOS
// package, matching the behaviour installers rely on.
func classifyPlatform(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "apk" {
		return platformAndroid
	}
	return platformIOS
}

// hasExtension reports whether the filename carries a non-empty extension.
func hasExtension(filename string) bool {
	ext := filepath.Ext(filename)
	return ext != "" && ext != "."
}

// displayName strips the package extension from the original filename for
// page titles and manifest metadata.
func displayName(originalName string) string {
	name := strings.TrimSuffix(originalName, filepath.Ext(originalName))
	if name == "" {
		return originalName
	}
	return name
}

// sanitizeAppName lower-cases the app name and strips everything outside
// [a-z0-9], for embedding into a synthetic bundle identifier.
func sanitizeAppName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fallbackBundleID synthesizes a deterministic reverse-DNS bundle identifier
// for records uploaded without one.
func fallbackBundleID(originalName string) string {
	sanitized := sanitizeAppName(displayName(originalName))
	if sanitized == "" {
		sanitized = "app"
	}
	return "com." + sanitized + ".app"
}

// contentTypeFor picks a sensible Content-Type for a stored package when the
// uploader did not supply one.
func contentTypeFor(platform string) string {
	if platform == platformAndroid {
		return "application/vnd.android.package-archive"
	}
	return "application/octet-stream"
}
