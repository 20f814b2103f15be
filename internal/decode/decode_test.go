package decode

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	w, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	return w.EncodeAll(data, nil)
}

func TestTextPlain(t *testing.T) {
	assert.Equal(t, "hello world", Text([]byte("hello world"), nil))
}

func TestTextPlainIdempotent(t *testing.T) {
	// Already-decoded text round-trips unchanged.
	out := Text([]byte("明天见, see you!"), nil)
	assert.Equal(t, "明天见, see you!", out)
	assert.Equal(t, out, Text([]byte(out), nil))
}

func TestTextCompressedColumnWins(t *testing.T) {
	got := Text([]byte("stale"), []byte("fresh"))
	assert.Equal(t, "fresh", got)
}

func TestTextCompressedEmptyFallsBack(t *testing.T) {
	got := Text([]byte("primary"), nil)
	assert.Equal(t, "primary", got)
}

func TestTextHex(t *testing.T) {
	enc := hex.EncodeToString([]byte("hex payload"))
	assert.Equal(t, "hex payload", Text([]byte(enc), nil))
}

func TestTextBase64(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("b64 payload!"))
	assert.Equal(t, "b64 payload!", Text([]byte(enc), nil))
}

func TestTextZstdRoundTrip(t *testing.T) {
	original := "压缩过的消息 with mixed text"
	comp := zstdCompress(t, []byte(original))

	// Raw binary column.
	assert.Equal(t, original, Text(nil, comp))

	// Hex transport encoding around the compressed block.
	enc := hex.EncodeToString(comp)
	assert.Equal(t, original, Text(nil, []byte(enc)))
}

func TestTextCorruptZstd(t *testing.T) {
	bad := append([]byte{0x28, 0xB5, 0x2F, 0xFD}, []byte("garbage")...)
	enc := hex.EncodeToString(bad)
	assert.Equal(t, "", Text([]byte(enc), nil),
		"corrupt frame must yield empty string, not an error")
}

func TestTextLatin1Fallback(t *testing.T) {
	// High-bit single-byte text: invalid as UTF-8 in (nearly)
	// every position, so the 20% threshold trips.
	raw := []byte{0xE9, 0x74, 0xE9, 0x20, 0xE0}
	enc := hex.EncodeToString(raw)
	got := Text([]byte(enc), nil)
	assert.Equal(t, "été à", got)
}

func TestTextEmpty(t *testing.T) {
	assert.Equal(t, "", Text(nil, nil))
	assert.Equal(t, "", Text([]byte{}, []byte{}))
}

func TestLooksHex(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"deadbeef", true},
		{"DEADBEEF", true},
		{"deadbee", false},  // odd length
		{"deadbeeg", false}, // non-hex digit
		{"", false},
	}
	for _, tt := range tests {
		if got := looksHex(tt.in); got != tt.want {
			t.Errorf("looksHex(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLooksBase64(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"aGVsbG8=", true},
		{"aGVsbG8", false},  // not a multiple of 4
		{"aG=sbG8=", false}, // interior padding
		{"aGVsbG8h", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := looksBase64(tt.in); got != tt.want {
			t.Errorf("looksBase64(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEmoji(t *testing.T) {
	content := `<msg><emoji fromusername="wxid_1" md5="0F607264FC6318A92B9E13C65DB7CD3C"` +
		` len="10240" cdnurl="https://emoji.example.com/x?a=1&amp;b=2"></emoji></msg>`
	ref, ok := Emoji(content)
	require.True(t, ok)
	assert.Equal(t, "0f607264fc6318a92b9e13c65db7cd3c", ref.MD5)
	assert.Equal(t, "https://emoji.example.com/x?a=1&b=2", ref.CDNURL)
}

func TestEmojiAbsent(t *testing.T) {
	_, ok := Emoji("just a text message")
	assert.False(t, ok)
}
