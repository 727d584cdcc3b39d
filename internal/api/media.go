package api

import "strings"

// IsMediaRef reports whether a message body is a media reference rather
// than plain text. The backend stores image messages as the uploaded file's
// URL or its /media/ path.
func IsMediaRef(content string) bool {
	return strings.HasPrefix(content, "/media/") ||
		strings.HasPrefix(content, "http://") ||
		strings.HasPrefix(content, "https://")
}
