// Package tokenizer estimates token counts. It is not a real BPE tokenizer;
// it approximates one token per four characters.
package tokenizer

import "unicode/utf8"

const charsPerToken = 4

// Encode splits text into pseudo-tokens of up to four runes each.
func Encode(text string) []string {
	if text == "" {
		return nil
	}
	tokens := make([]string, 0, Count(text))
	start, n := 0, 0
	for i := range text {
		if n == charsPerToken {
			tokens = append(tokens, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(tokens, text[start:])
}

// Decode joins tokens produced by Encode.
func Decode(tokens []string) string {
	size := 0
	for _, t := range tokens {
		size += len(t)
	}
	buf := make([]byte, 0, size)
	for _, t := range tokens {
		buf = append(buf, t...)
	}
	return string(buf)
}

// Count returns the estimated number of tokens in text.
func Count(text string) int {
	runes := utf8.RuneCountInString(text)
	return (runes + charsPerToken - 1) / charsPerToken
}
