package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityFriends  Visibility = "FRIENDS"
	VisibilityUnlisted Visibility = "UNLISTED"
	// VisibilityDeleted is only ever carried on the wire by a delete push.
	VisibilityDeleted Visibility = "DELETED"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityFriends, VisibilityUnlisted:
		return true
	}
	return false
}

const (
	ContentTypePlain    = "text/plain"
	ContentTypeMarkdown = "text/markdown"
	ContentTypePNG      = "image/png;base64"
	ContentTypeJPEG     = "image/jpeg;base64"
	ContentTypeBase64   = "application/base64"
)

const (
	pngSignature  = "iVBORw0KGgo"
	jpegSignature = "/9j/"
)

// ValidateContent checks the content type is supported and that inline
// images carry the matching base64 signature.
func ValidateContent(contentType, content string) error {
	switch contentType {
	case ContentTypePlain, ContentTypeMarkdown, ContentTypeBase64:
		return nil
	case ContentTypePNG:
		if !strings.HasPrefix(stripDataURL(content), pngSignature) {
			return fmt.Errorf("%w: content is not a base64 png", ErrValidation)
		}
		return nil
	case ContentTypeJPEG:
		if !strings.HasPrefix(stripDataURL(content), jpegSignature) {
			return fmt.Errorf("%w: content is not a base64 jpeg", ErrValidation)
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported contentType %q", ErrValidation, contentType)
}

func stripDataURL(content string) string {
	if strings.HasPrefix(content, "data:") {
		if i := strings.Index(content, ","); i >= 0 {
			return content[i+1:]
		}
	}
	return content
}

// Entry is a post. Id is the FQID assigned by the origin node and is immutable.
type Entry struct {
	Id          string
	Serial      string
	AuthorId    string
	Title       string
	Description string
	ContentType string
	Content     string
	Visibility  Visibility
	Published   time.Time
	UpdatedAt   time.Time
	IsDeleted   bool

	// Filled by reads that join the owner.
	Author *Author
}

// Image decodes an inline image entry. application/base64 content is typed
// by its signature and falls back to application/octet-stream. Other content
// types have no image and yield ErrNotFound.
func (e *Entry) Image() ([]byte, string, error) {
	switch e.ContentType {
	case ContentTypePNG, ContentTypeJPEG, ContentTypeBase64:
	default:
		return nil, "", fmt.Errorf("%w: entry %s is not an image", ErrNotFound, e.Id)
	}
	raw := strings.TrimSpace(stripDataURL(e.Content))
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode image of %s: %w", e.Id, err)
	}

	mime := "application/octet-stream"
	switch {
	case strings.HasPrefix(raw, pngSignature):
		mime = "image/png"
	case strings.HasPrefix(raw, jpegSignature):
		mime = "image/jpeg"
	}
	return data, mime, nil
}

// Comment belongs to exactly one entry, which may live on another node.
type Comment struct {
	Id          string
	Serial      string
	AuthorId    string
	EntryId     string
	Comment     string
	ContentType string
	Published   time.Time

	Author *Author
}
