package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dmaksimov/structex/internal/schema"
)

// Outcome is the terminal result of the extraction loop: either parsed
// data or a failure description, plus the last attempt's raw model text
// for diagnostics in both cases.
type Outcome struct {
	Data             []map[string]any
	RawOutput        string
	ErrorDescription string
}

// Failed reports whether the retry budget was exhausted without a
// validated result.
func (o Outcome) Failed() bool { return o.Data == nil }

// Extractor drives one bounded compose->invoke->decode->validate loop
// per document. The loop is deliberately non-adaptive: every retry
// reuses the identical base prompt plus a fixed reinforcement suffix,
// regardless of why the previous attempt failed.
type Extractor struct {
	model      Chatter
	maxRetries int
	stats      *LLMStats
	log        *slog.Logger
}

// NewExtractor creates an extractor performing up to maxRetries+1
// attempts per document.
func NewExtractor(model Chatter, maxRetries int, stats *LLMStats, log *slog.Logger) *Extractor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		model:      model,
		maxRetries: maxRetries,
		stats:      stats,
		log:        log,
	}
}

// extractionTemperature pins sampling for extraction calls.
const extractionTemperature = 0.0

// Extract runs the retry loop. A non-nil error means the model
// collaborator itself failed (unreachable, timed out); decode and
// validation failures never surface as errors — they consume attempts
// and, once the budget is spent, produce a failed Outcome carrying the
// last raw output and the last failure description.
func (e *Extractor) Extract(ctx context.Context, s schema.CompiledSchema, text string, hints []schema.FieldDefinition) (Outcome, error) {
	base := BuildExtractionPrompt(s, text, hints)

	var lastRaw, lastFailure string
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		prompt := base
		if attempt > 0 {
			prompt = base + ReinforcementSuffix
		}

		start := time.Now()
		raw, err := e.model.Chat(ctx, prompt, extractionTemperature)
		if err != nil {
			if e.stats != nil {
				e.stats.RecordTransportFailure()
			}
			return Outcome{RawOutput: lastRaw}, err
		}
		if e.stats != nil {
			e.stats.RecordCall(time.Since(start))
		}
		lastRaw = raw

		var value any
		if err := json.Unmarshal([]byte(stripCodeFence(raw)), &value); err != nil {
			lastFailure = "invalid JSON: " + err.Error()
			e.log.Warn("extraction attempt failed at decode", "attempt", attempt, "error", err)
			continue
		}

		if err := schema.Validate(value, s); err != nil {
			lastFailure = err.Error()
			e.log.Warn("extraction attempt failed validation", "attempt", attempt, "error", err)
			continue
		}

		if e.stats != nil {
			e.stats.RecordExtraction(attempt, false)
		}
		return Outcome{Data: toRecords(value), RawOutput: raw}, nil
	}

	if e.stats != nil {
		e.stats.RecordExtraction(e.maxRetries, true)
	}
	e.log.Warn("extraction retry budget exhausted", "attempts", e.maxRetries+1, "last_failure", lastFailure)
	return Outcome{RawOutput: lastRaw, ErrorDescription: lastFailure}, nil
}

// toRecords narrows a validated top-level array into row maps. Validate
// has already guaranteed the shape.
func toRecords(value any) []map[string]any {
	arr := value.([]any)
	records := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		records = append(records, el.(map[string]any))
	}
	return records
}

var codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// stripCodeFence unwraps a response the model put inside a Markdown
// code fence before JSON decoding.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}
