package parser

import (
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/token"
)

// FindKeyword returns the byte offset of the first whole-word,
// case-insensitive occurrence of kw in s outside quoted literals, or -1.
// An unterminated quote hides the rest of s.
func FindKeyword(s, kw string) int {
	kw = strings.ToUpper(kw)
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		if token.IsQuote(c) {
			quote = c
			continue
		}
		if i > 0 && isWordByte(s[i-1]) {
			continue
		}
		end := i + len(kw)
		if end <= len(s) && strings.ToUpper(s[i:end]) == kw && (end == len(s) || !isWordByte(s[end])) {
			return i
		}
	}
	return -1
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
