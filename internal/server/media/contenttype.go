package media

import (
	"path"
	"strings"
)

const defaultContentType = "application/octet-stream"

var contentTypesByExtension = map[string]string{
	".md":   "text/markdown",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".odt":  "application/vnd.oasis.opendocument.text",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// contentTypeByExtension looks the extension up case-insensitively; "" when unknown.
func contentTypeByExtension(filename string) string {
	return contentTypesByExtension[strings.ToLower(path.Ext(filename))]
}

// resolveContentType returns the first candidate that names a specific
// type, or the default. Callers list candidates in priority order; an
// empty string or application/octet-stream is skipped.
func resolveContentType(candidates ...string) string {
	for _, c := range candidates {
		if isSpecific(c) {
			return c
		}
	}
	return defaultContentType
}

func isSpecific(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	base = strings.TrimSpace(base)
	return base != "" && base != defaultContentType
}

// downloadContentType orders: type recorded at upload, type the store
// reports, then the filename extension.
func downloadContentType(recorded, stored, filename string) string {
	return resolveContentType(recorded, stored, contentTypeByExtension(filename))
}

// uploadContentType orders: type the client declared, the filename
// extension, then what sniffing the bytes found.
func uploadContentType(declared, filename, sniffed string) string {
	return resolveContentType(declared, contentTypeByExtension(filename), sniffed)
}
