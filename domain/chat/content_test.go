package chat

import (
	"chat-hub/errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateContent(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateContent(TextContent{Text: "hello"}, 10))
	req.ErrorIs(ValidateContent(TextContent{Text: "   "}, 10), errors.ErrValidation)
	req.ErrorIs(ValidateContent(TextContent{Text: strings.Repeat("a", 11)}, 10), errors.ErrValidation)
	req.NoError(ValidateContent(TextContent{Text: strings.Repeat("a", 11)}, 0))

	req.NoError(ValidateContent(MediaContent{URL: "https://cdn/x.png", Kind: MediaImage}, 10))
	req.ErrorIs(ValidateContent(MediaContent{URL: "", Kind: MediaImage}, 10), errors.ErrValidation)
	req.ErrorIs(ValidateContent(MediaContent{URL: "https://cdn/x", Kind: "sticker"}, 10), errors.ErrValidation)
	req.ErrorIs(ValidateContent(nil, 10), errors.ErrValidation)
}

func TestNewMediaContent_InfersKindFromMime(t *testing.T) {
	req := require.New(t)

	// Given media declared without a kind
	image := NewMediaContent("https://cdn/a", "", "image/png", "")
	video := NewMediaContent("https://cdn/b", "", "video/mp4; codecs=avc1", "")
	doc := NewMediaContent("https://cdn/c", "", "application/pdf", "")

	// Then the kind comes from the mime type
	req.Equal(MediaImage, image.Kind)
	req.Equal("image/png", image.MimeType)
	req.Equal(MediaVideo, video.Kind)
	req.Equal("video/mp4", video.MimeType)
	req.Equal(MediaDocument, doc.Kind)

	// And an explicit kind wins
	voice := NewMediaContent("https://cdn/d", MediaVoice, "audio/ogg", "")
	req.Equal(MediaVoice, voice.Kind)
}

func TestDirectPair_IsOrderIndependent(t *testing.T) {
	req := require.New(t)
	a1, b1 := DirectPair("bob", "alice")
	a2, b2 := DirectPair("alice", "bob")
	req.Equal(a1, a2)
	req.Equal(b1, b2)
	req.Equal("alice", a1)
}

func TestValidate_Command(t *testing.T) {
	req := require.New(t)
	req.ErrorIs(Validate(PostMessageCommand{SenderID: "u1"}), errors.ErrValidation)
	req.NoError(Validate(PostMessageCommand{ConversationID: "c1", SenderID: "u1"}))
}
