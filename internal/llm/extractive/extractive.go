// Package extractive answers from the supplied context alone by picking its
// most relevant sentences. It needs no network and is fully deterministic.
package extractive

import (
	"context"
	"regexp"
	"strings"

	"studybuddy/internal/domain"
	"studybuddy/internal/llm"
	"studybuddy/internal/summarizer"
)

// NothingFound is the answer when the context holds no usable sentence.
const NothingFound = "I could not find information about that in your documents."

var sourceHeader = regexp.MustCompile(`(?m)^\[Source \d+ - .*, Page [^\]]*\]$`)

type Generator struct {
	summarizer   *summarizer.FrequencySummarizer
	maxSentences int
}

func New(maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Generator{summarizer: summarizer.NewFrequencySummarizer(), maxSentences: maxSentences}
}

func (g *Generator) Name() string { return "extractive" }

func (g *Generator) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(g.answer(messages), " "), nil
}

// Stream sends the answer one sentence at a time; the increments concatenate
// to exactly what Complete returns.
func (g *Generator) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sentences := g.answer(messages)
	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		for i, s := range sentences {
			if i > 0 {
				s = " " + s
			}
			select {
			case out <- llm.Delta{Content: s}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *Generator) answer(messages []llm.Message) []string {
	var prompt string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			prompt = messages[i].Content
			break
		}
	}
	contextBlock, question, ok := llm.ParseUserPrompt(prompt)
	if !ok {
		contextBlock, question = prompt, prompt
	}
	if strings.TrimSpace(contextBlock) == llm.NoContext {
		return []string{NothingFound}
	}
	text := sourceHeader.ReplaceAllString(contextBlock, "")
	text = strings.ReplaceAll(text, strings.TrimSpace(llm.ContextDelimiter), " ")
	sentences := g.summarizer.Rank(text, question, g.maxSentences)
	if len(sentences) == 0 {
		return []string{NothingFound}
	}
	return sentences
}

var _ llm.Generator = (*Generator)(nil)
