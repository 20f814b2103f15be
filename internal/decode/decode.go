// Package decode turns raw message content columns into UTF-8
// text. The decrypted store carries content in several historical
// shapes: plain text, hex- or base64-encoded bytes, and
// zstd-compressed blocks. Decoding is best-effort and never
// fails: a payload that cannot be decoded yields an empty string
// so a single malformed row cannot abort a scan.
package decode

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the little-endian frame magic 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Shared decoder; DecodeAll on a *zstd.Decoder is safe for
// concurrent use.
var zreader, _ = zstd.NewReader(nil,
	zstd.WithDecoderConcurrency(1),
	zstd.WithDecoderMaxMemory(64<<20),
)

// Text decodes a message's content from its primary and
// compressed columns. The compressed column wins when present;
// the primary column is the fallback. Both are optional.
func Text(primary, compressed []byte) string {
	if s := candidate(compressed); s != "" {
		return s
	}
	return candidate(primary)
}

// candidate decodes one column value. Hex- and base64-looking
// values are interpreted as encoded bytes; anything else is
// treated as already-decoded text.
func candidate(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	s := string(raw)

	if looksHex(s) {
		buf, err := hex.DecodeString(s)
		if err == nil {
			return toText(buf)
		}
		return ""
	}
	if looksBase64(s) {
		buf, err := base64.StdEncoding.DecodeString(s)
		if err == nil {
			return toText(buf)
		}
		// Not base64 after all; fall through to plain text.
	}
	// Raw binary column: some store exports write the compressed
	// block directly without a transport encoding.
	if hasZstdMagic(raw) {
		return toText(raw)
	}
	return s
}

// toText converts a decoded byte buffer to text, decompressing
// zstd frames and falling back to Latin-1 when the buffer is
// clearly not UTF-8.
func toText(buf []byte) string {
	if hasZstdMagic(buf) {
		plain, err := zreader.DecodeAll(buf, nil)
		if err != nil {
			return ""
		}
		buf = plain
	}
	if utf8.Valid(buf) {
		return string(buf)
	}
	// Count invalid sequences; >=20% means this is likely a
	// legacy single-byte encoding, not damaged UTF-8.
	total, bad := 0, 0
	for i := 0; i < len(buf); {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size == 1 {
			bad++
		}
		total++
		i += size
	}
	if total > 0 && bad*5 >= total {
		return latin1(buf)
	}
	return string(buf) // invalid sequences become U+FFFD
}

func hasZstdMagic(buf []byte) bool {
	return len(buf) >= 4 &&
		buf[0] == zstdMagic[0] && buf[1] == zstdMagic[1] &&
		buf[2] == zstdMagic[2] && buf[3] == zstdMagic[3]
}

// latin1 maps each byte to the corresponding code point.
func latin1(buf []byte) string {
	var b strings.Builder
	b.Grow(len(buf))
	for _, c := range buf {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// looksHex reports whether s could be a hex-encoded byte string:
// non-empty, even length, hex digits only.
func looksHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// looksBase64 reports whether s could be base64: non-empty,
// length a multiple of 4, alphabet characters with optional
// trailing padding.
func looksBase64(s string) bool {
	if len(s) == 0 || len(s)%4 != 0 {
		return false
	}
	pad := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '=':
			pad = true
		case pad:
			return false // '=' only allowed at the end
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '+' || c == '/':
		default:
			return false
		}
	}
	return true
}
