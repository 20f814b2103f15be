package store

import (
	"strings"

	"github.com/wesm/chatlens/internal/decode"
)

// MessageType is the normalized message kind. The raw store uses
// numeric local types that differ between layouts; normalization
// happens once, at the cursor boundary, so nothing above the
// store ever branches on raw type codes.
type MessageType int

const (
	MessageOther MessageType = iota
	MessageText
	MessageImage
	MessageVoice
	MessageVideo
	MessageSticker
	MessageShare
	MessageSystem
)

// String returns the wire label used in API responses.
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageImage:
		return "image"
	case MessageVoice:
		return "voice"
	case MessageVideo:
		return "video"
	case MessageSticker:
		return "sticker"
	case MessageShare:
		return "share"
	case MessageSystem:
		return "system"
	default:
		return "other"
	}
}

// normalizeType maps a raw local type code to a MessageType.
// Both layouts use the same numeric vocabulary for these codes.
func normalizeType(raw int64) MessageType {
	switch raw {
	case 1:
		return MessageText
	case 3:
		return MessageImage
	case 34:
		return MessageVoice
	case 43:
		return MessageVideo
	case 47:
		return MessageSticker
	case 49:
		return MessageShare
	case 10000:
		return MessageSystem
	default:
		return MessageOther
	}
}

// MessageRow is one normalized message. Rows are immutable and
// are not retained by the report engine beyond a single
// accumulation step.
type MessageRow struct {
	CreateTime int64 // epoch seconds
	IsSelf     bool
	Type       MessageType
	Content    []byte // primary content column
	Compressed []byte // compressed-content column, may be nil

	// ContentPlain marks Content as already-decoded text. The
	// modern layout writes the content column as plain UTF-8, so
	// running it through the encoded-payload sniffer would mangle
	// short texts that happen to look like base64.
	ContentPlain bool
}

// Text decodes the row's content columns. The compressed column
// wins when present; the primary column only goes through the
// sniffer when the layout can actually encode it.
func (r MessageRow) Text() string {
	return columnText(r.ContentPlain, r.Content, r.Compressed)
}

func columnText(plain bool, content, compressed []byte) string {
	if s := decode.Text(nil, compressed); s != "" {
		return s
	}
	if plain {
		return string(content)
	}
	return decode.Text(content, nil)
}

// groupSuffix marks group-conversation session ids.
const groupSuffix = "@chatroom"

// IsGroupID reports whether a session id names a group chat.
func IsGroupID(id string) bool {
	return strings.HasSuffix(id, groupSuffix)
}

// SessionSummary is one conversation as enumerated from the
// store, already normalized across layouts.
type SessionSummary struct {
	ID         string `json:"id"`
	IsGroup    bool   `json:"is_group"`
	LastActive int64  `json:"last_active"`
}

// Contact holds resolved display metadata for a session id.
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
