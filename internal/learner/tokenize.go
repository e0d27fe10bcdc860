package learner

import "strings"

// Tokenize lowercases the prompt and splits it on non-alphanumeric runes.
// Both the router's keyword phase and the learner's association update use
// this same tokenization so learned strengths line up with query tokens.
func Tokenize(prompt string) []string {
	lower := strings.ToLower(prompt)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// UniqueTokens returns the distinct tokens of a prompt, preserving first
// occurrence order.
func UniqueTokens(prompt string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokenize(prompt) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
