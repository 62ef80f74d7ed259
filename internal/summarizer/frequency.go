package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered),
// optionally biased toward the words of a focus text such as a question.
type FrequencySummarizer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

// focusWeight is added to a sentence token's score when the token also occurs in the focus text.
const focusWeight = 2.0

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern:    regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		sentencePattern: regexp.MustCompile(`[^.!?]+[.!?]+`),
		stopwords:       defaultStopwords(),
	}
}

// Rank returns up to maxSentences sentences of text in their original order.
// Sentences sharing words with focus score higher. Ties keep document order.
func (s *FrequencySummarizer) Rank(text, focus string, maxSentences int) []string {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	sentences := s.Sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	focusSet := map[string]struct{}{}
	for _, tok := range s.tokens(focus) {
		focusSet[tok] = struct{}{}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
			if _, ok := focusSet[tok]; ok {
				score += focusWeight
			}
		}
		// normalise by length so long sentences do not always win
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return out
}

// Sentences splits text on terminal punctuation. Trailing text without
// punctuation counts as a final sentence.
func (s *FrequencySummarizer) Sentences(text string) []string {
	var out []string
	end := 0
	for _, loc := range s.sentencePattern.FindAllStringIndex(text, -1) {
		if sent := normalizeSpace(text[loc[0]:loc[1]]); sent != "" {
			out = append(out, sent)
		}
		end = loc[1]
	}
	if tail := normalizeSpace(text[end:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func (s *FrequencySummarizer) tokens(text string) []string {
	raw := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, stop := s.stopwords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "why", "when", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
