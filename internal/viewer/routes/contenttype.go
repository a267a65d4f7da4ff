package routes

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// contentTypeForName picks a Content-Type for a blob from its stored file
// name, sniffing the content when the name has no known extension.
func contentTypeForName(name string, head []byte) string {
	ext := strings.ToLower(path.Ext(name))

	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".json":
		return "application/json"
	case ".txt", ".md":
		return "text/plain; charset=utf-8"
	}

	if ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}

	return http.DetectContentType(head)
}
