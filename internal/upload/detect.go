// Package upload turns local files and multipart parts into documents ready
// for submission, resolving their media type.
package upload

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const octetStream = "application/octet-stream"

// extensionTypes is the fallback used when sniffing is inconclusive.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".txt":  "text/plain",
	".gif":  "image/gif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// containers are sniffed types that only say how a file is packaged, not
// what it is; the extension decides for those.
var containers = map[string]bool{
	octetStream:                 true,
	"application/zip":           true,
	"application/x-ole-storage": true,
	"text/xml":                  true,
	"application/xml":           true,
}

// TypeByExtension returns the media type registered for name's extension,
// or application/octet-stream.
func TypeByExtension(name string) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return octetStream
}

// DetectType resolves the media type of a file. A specific declared type
// wins; otherwise the content is sniffed, and container formats fall back
// to the extension table.
func DetectType(name, declared string, head []byte) string {
	if d := baseType(declared); d != "" && d != octetStream {
		return d
	}
	sniffed := baseType(mimetype.Detect(head).String())
	if !containers[sniffed] {
		return sniffed
	}
	if byExt := TypeByExtension(name); byExt != octetStream {
		return byExt
	}
	return sniffed
}

func baseType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(t)
	}
	return mt
}
