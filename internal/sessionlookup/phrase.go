package sessionlookup

import (
	"strings"
	"unicode/utf8"
)

// promptChars indicate UI chrome (prompts, decorations) rather than
// conversation content.
const promptChars = "❯>$#%│─━┃╭╰"

// decorationChars are box-drawing glyphs; a line that is mostly these is a
// border, not content.
const decorationChars = "─━│┃╭╰╮╯┌└┐┘├┤┬┴┼═║"

const (
	minPhraseLen = 15
	maxPhraseLen = 80
)

// ExtractPhrases pulls distinctive phrases out of capture-pane content for
// substring matching against transcript files: UI chrome, borders, and
// short lines are skipped, long lines are truncated at a char boundary,
// and near-duplicates are collapsed.
func ExtractPhrases(content string, maxPhrases int) []string {
	type candidate struct {
		score  int
		phrase string
	}
	var candidates []candidate

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < minPhraseLen {
			continue
		}
		if isUIChrome(trimmed) || isRepeatedChars(trimmed) {
			continue
		}
		phrase := trimmed
		if len(phrase) > maxPhraseLen {
			end := maxPhraseLen
			for end > 0 && !utf8.RuneStart(phrase[end]) {
				end--
			}
			phrase = phrase[:end]
		}
		candidates = append(candidates, candidate{score: scorePhrase(phrase), phrase: phrase})
	}

	// Stable by score descending; most distinctive first.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score > candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	var result []string
	for _, c := range candidates {
		if len(result) >= maxPhrases {
			break
		}
		similar := false
		for _, existing := range result {
			if strings.Contains(existing, c.phrase) || strings.Contains(c.phrase, existing) {
				similar = true
				break
			}
		}
		if !similar {
			result = append(result, c.phrase)
		}
	}
	return result
}

// isUIChrome reports prompt-prefixed, spinner, or mostly-box-drawing lines.
func isUIChrome(line string) bool {
	first, _ := utf8.DecodeRuneInString(line)
	if strings.ContainsRune(promptChars, first) {
		return true
	}
	if strings.Contains(line, "✳") || strings.Contains(line, "⠂") || strings.Contains(line, "⠐") {
		return true
	}
	decoration, total := 0, 0
	for _, r := range line {
		total++
		if strings.ContainsRune(decorationChars, r) {
			decoration++
		}
	}
	return decoration > total/2
}

// isRepeatedChars reports lines that are one character repeated (borders,
// separators).
func isRepeatedChars(line string) bool {
	var first rune
	for i, r := range line {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			return false
		}
	}
	return true
}

// scorePhrase prefers longer phrases and multi-byte (non-ASCII) content,
// which is less likely to collide across transcripts.
func scorePhrase(phrase string) int {
	score := len(phrase)
	for _, r := range phrase {
		if r > 0x7F {
			score += 2
		}
	}
	return score
}
