package handlers

import (
	"mime"
	"path/filepath"
	"strings"
)

// previewLimit caps the size of objects a browser may preview inline.
const previewLimit = 10 * 1024 * 1024

var extTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".pdf":  "application/pdf",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
}

// contentTypeFromExt guesses from the key alone; listings carry no
// Content-Type.
func contentTypeFromExt(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if t, ok := extTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func isImageType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

func isTextType(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") ||
		contentType == "application/json" ||
		contentType == "application/xml"
}

func isVideoType(contentType string) bool {
	return strings.HasPrefix(contentType, "video/")
}

func isArchiveType(contentType, key string) bool {
	switch contentType {
	case "application/zip", "application/x-tar", "application/gzip":
		return true
	}
	switch strings.ToLower(filepath.Ext(key)) {
	case ".zip", ".tar", ".gz", ".rar", ".7z":
		return true
	}
	return false
}

func isPreviewable(contentType string, size uint64) bool {
	if size > previewLimit {
		return false
	}
	return isImageType(contentType) || isTextType(contentType) || isVideoType(contentType)
}
