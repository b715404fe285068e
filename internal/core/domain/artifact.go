package domain

import (
	"path"
	"strings"
)

const (
	ContentTypePNG    = "image/png"
	ContentTypeJPEG   = "image/jpeg"
	ContentTypeBinary = "application/octet-stream"
)

// Artifact is a stored binary object (an image) addressed by Ref.
type Artifact struct {
	Ref         string
	Data        []byte
	ContentType string // declared at write time, may be empty
}

// ResolvedContentType prefers the declared type and falls back to the suffix of Ref.
func (a Artifact) ResolvedContentType() string {
	if a.ContentType != "" {
		return a.ContentType
	}
	return ContentTypeFor(a.Ref)
}

// ContentTypeFor infers a content type from a reference's filename suffix.
func ContentTypeFor(ref string) string {
	switch strings.ToLower(path.Ext(ref)) {
	case ".png":
		return ContentTypePNG
	case ".jpg", ".jpeg":
		return ContentTypeJPEG
	default:
		return ContentTypeBinary
	}
}
