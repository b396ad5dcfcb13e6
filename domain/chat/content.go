package chat

import (
	"chat-hub/errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaVoice    MediaKind = "voice"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaDocument, MediaAudio, MediaVoice:
		return true
	default:
		return false
	}
}

// Content is either TextContent or MediaContent.
type Content interface {
	isContent()
}

type TextContent struct {
	Text string
}

type MediaContent struct {
	URL      string
	Kind     MediaKind
	MimeType string
	Caption  string
}

func (TextContent) isContent()  {}
func (MediaContent) isContent() {}

// ValidateContent rejects empty text, text above maxLength runes (when maxLength > 0),
// media without url and media of an unknown kind.
func ValidateContent(c Content, maxLength int) error {
	switch v := c.(type) {
	case TextContent:
		if strings.TrimSpace(v.Text) == "" {
			return fmt.Errorf("%w: text content is empty", errors.ErrValidation)
		}
		if maxLength > 0 && utf8.RuneCountInString(v.Text) > maxLength {
			return fmt.Errorf("%w: text exceeds %d characters", errors.ErrValidation, maxLength)
		}
	case MediaContent:
		if strings.TrimSpace(v.URL) == "" {
			return fmt.Errorf("%w: media url is empty", errors.ErrValidation)
		}
		if !v.Kind.Valid() {
			return fmt.Errorf("%w: unknown media kind %q", errors.ErrValidation, v.Kind)
		}
	case nil:
		return fmt.Errorf("%w: content is missing", errors.ErrValidation)
	default:
		return fmt.Errorf("%w: unsupported content %T", errors.ErrValidation, c)
	}
	return nil
}

// NewMediaContent normalises the declared mime type and infers the kind from it
// when the client did not send one.
func NewMediaContent(url string, kind MediaKind, mimeType, caption string) MediaContent {
	normalized := NormalizeMime(mimeType)
	if kind == "" {
		kind = KindFromMime(normalized)
	}
	return MediaContent{URL: url, Kind: kind, MimeType: normalized, Caption: caption}
}

// NormalizeMime returns the canonical media type known to mimetype, the bare
// media type when the library has no entry for it, or "" when unparsable.
func NormalizeMime(raw string) string {
	if raw == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	if known := mimetype.Lookup(mt); known != nil {
		return known.String()
	}
	return mt
}

func KindFromMime(mt string) MediaKind {
	switch {
	case mt == "":
		return ""
	case strings.HasPrefix(mt, "image/"):
		return MediaImage
	case strings.HasPrefix(mt, "video/"):
		return MediaVideo
	case strings.HasPrefix(mt, "audio/"):
		return MediaAudio
	default:
		return MediaDocument
	}
}
