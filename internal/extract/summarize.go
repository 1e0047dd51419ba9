package extract

import (
	"context"
	"strings"
	"time"
)

// summaryTemperature allows the model slight creativity when writing
// summaries, unlike extraction, which is pinned to 0.
const summaryTemperature = 0.2

// Summarizer produces free-form summaries of document text.
type Summarizer struct {
	model Chatter
	stats *LLMStats
}

func NewSummarizer(model Chatter, stats *LLMStats) *Summarizer {
	return &Summarizer{model: model, stats: stats}
}

// Summarize builds the summary prompt for the requested level and
// focus, invokes the model once, and returns the trimmed summary text.
func (s *Summarizer) Summarize(ctx context.Context, text, focus string, level SummaryLevel) (string, error) {
	prompt := BuildSummaryPrompt(text, focus, level)

	start := time.Now()
	raw, err := s.model.Chat(ctx, prompt, summaryTemperature)
	if err != nil {
		if s.stats != nil {
			s.stats.RecordTransportFailure()
		}
		return "", err
	}
	if s.stats != nil {
		s.stats.RecordCall(time.Since(start))
		s.stats.RecordSummary()
	}

	return strings.TrimSpace(raw), nil
}
