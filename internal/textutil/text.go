// Package textutil normalizes message text for display.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// fallbacks are tried in order when detection fails. Western single-byte
// charsets dominate admin mailboxes, so they come first.
var fallbacks = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_15,
	japanese.ShiftJIS,
	korean.EUCKR,
	simplifiedchinese.GBK,
}

// Charset returns the decoder for a MIME charset label, or nil when the
// label is empty, unknown or already UTF-8.
func Charset(label string) encoding.Encoding {
	label = strings.Trim(strings.TrimSpace(label), `"'`)
	if label == "" {
		return nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return nil
	}
	return enc
}

// DecodeCharset converts data in the named charset to UTF-8. Unknown
// charsets and decode failures fall back to EnsureUTF8.
func DecodeCharset(data []byte, label string) string {
	if enc := Charset(label); enc != nil {
		if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	return EnsureUTF8(string(data))
}

// EnsureUTF8 returns s unchanged when it is valid UTF-8. Otherwise it
// guesses the charset, then tries the common fallbacks, and finally
// replaces the invalid bytes.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res.Confidence >= minConfidence {
		if enc := Charset(res.Charset); enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}

	for _, enc := range fallbacks {
		if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	return SanitizeUTF8(s)
}

// SanitizeUTF8 replaces each invalid byte with U+FFFD.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.WriteString(s[i : i+size])
		}
		i += size
	}
	return sb.String()
}

// TruncateRunes shortens s to at most maxRunes runes, ending in "..." when
// anything was cut and there is room for it.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// Snippet collapses whitespace in body and truncates it to maxRunes.
func Snippet(body string, maxRunes int) string {
	return TruncateRunes(strings.Join(strings.Fields(body), " "), maxRunes)
}
