package chunk

import (
	"sort"
	"strings"
	"unicode"
)

// Semantic extraction limits.
const (
	maxKeyPhrases = 10
	maxTopics     = 5
)

// stopWords filters function words out of key-phrase candidates.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "not": {}, "they": {}, "their": {}, "which": {},
}

// Analyze computes lightweight semantic metadata for a chunk: repeated
// multi-word phrases, coarse topics, and a readability ease score.
func Analyze(text string) Semantics {
	words := tokenizeWords(text)

	return Semantics{
		KeyPhrases:  keyPhrases(words),
		Topics:      topics(words),
		Readability: readability(text, words),
	}
}

// tokenizeWords lowercases and strips punctuation, keeping word order.
func tokenizeWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		words = append(words, strings.ToLower(f))
	}
	return words
}

// keyPhrases extracts the most frequent bigrams and trigrams whose boundary
// words are not stop words. Phrases seen only once are kept as a fallback
// when nothing repeats.
func keyPhrases(words []string) []string {
	counts := make(map[string]int)

	addNgrams := func(n int) {
		for i := 0; i+n <= len(words); i++ {
			if isStop(words[i]) || isStop(words[i+n-1]) {
				continue
			}
			phrase := strings.Join(words[i:i+n], " ")
			counts[phrase]++
		}
	}
	addNgrams(2)
	addNgrams(3)

	type scored struct {
		phrase string
		count  int
	}
	ranked := make([]scored, 0, len(counts))
	for p, n := range counts {
		ranked = append(ranked, scored{p, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].phrase < ranked[j].phrase
	})

	var out []string
	for _, s := range ranked {
		if s.count < 2 && len(out) > 0 {
			break
		}
		out = append(out, s.phrase)
		if len(out) == maxKeyPhrases {
			break
		}
	}
	return out
}

// topics returns the most frequent non-stop single words.
func topics(words []string) []string {
	counts := make(map[string]int)
	for _, w := range words {
		if isStop(w) || len(w) < 3 {
			continue
		}
		counts[w]++
	}

	type scored struct {
		word  string
		count int
	}
	ranked := make([]scored, 0, len(counts))
	for w, n := range counts {
		ranked = append(ranked, scored{w, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	var out []string
	for _, s := range ranked {
		out = append(out, s.word)
		if len(out) == maxTopics {
			break
		}
	}
	return out
}

// readability computes a Flesch reading-ease style score clamped to 0-100.
func readability(text string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}

	sentences := countSentences(text)
	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}

	score := 206.835 -
		1.015*(float64(len(words))/float64(sentences)) -
		84.6*(float64(syllables)/float64(len(words)))

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func countSentences(text string) int {
	n := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// countSyllables approximates syllables as vowel groups.
func countSyllables(word string) int {
	n := 0
	prevVowel := false
	for _, r := range word {
		v := strings.ContainsRune("aeiouy", r)
		if v && !prevVowel {
			n++
		}
		prevVowel = v
	}
	if n == 0 {
		return 1
	}
	return n
}

func isStop(w string) bool {
	_, ok := stopWords[w]
	return ok
}
