package decode

import (
	"regexp"
	"strings"
)

// EmojiRef identifies a sticker by the MD5 of its image, with a
// best-effort CDN URL when the markup carries one.
type EmojiRef struct {
	MD5    string
	CDNURL string
}

var (
	emojiMD5Re = regexp.MustCompile(`md5\s*=\s*"([0-9a-fA-F]{32})"`)
	emojiCDNRe = regexp.MustCompile(`cdnurl\s*=\s*"([^"]+)"`)
)

// Emoji extracts the sticker reference from an emoji message's
// embedded markup. Returns false when the content carries no
// recognizable md5 attribute.
func Emoji(content string) (EmojiRef, bool) {
	m := emojiMD5Re.FindStringSubmatch(content)
	if m == nil {
		return EmojiRef{}, false
	}
	ref := EmojiRef{MD5: strings.ToLower(m[1])}
	if c := emojiCDNRe.FindStringSubmatch(content); c != nil {
		ref.CDNURL = strings.ReplaceAll(c[1], "&amp;", "&")
	}
	return ref, true
}
