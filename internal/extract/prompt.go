package extract

import (
	"strings"

	"github.com/dmaksimov/structex/internal/schema"
)

const extractionHeader = `You are a structured data extraction system.

YOUR TASK:
1. Analyze the document text.
2. Extract data strictly as JSON conforming to the JSON schema below.
3. Return ONLY valid JSON, with no explanations, comments, or text before or after it.

JSON schema (result format):`

const extractionRequirements = `REQUIREMENTS:
- The top level of the result is always a JSON array.
- Every array element is an object.
- Fields must match the schema's "properties" and "required" exactly.
- If no data is found, return an empty array: [].
- Do NOT add fields that are not in the schema.
- Do NOT write any text other than the JSON.`

// ReinforcementSuffix is appended to the base prompt on every retry.
// The base prompt itself is rebuilt identically, so retries differ from
// the first attempt only by this suffix.
const ReinforcementSuffix = `

IMPORTANT:
The previous response was not valid JSON.
Now return ONLY valid JSON strictly conforming to the schema.
Do not add any comments or text outside the JSON.`

// BuildExtractionPrompt composes the deterministic base prompt for
// structured extraction. The compiled schema is embedded verbatim in
// its canonical indented form; field descriptions appear only in the
// hints block, never inside the schema.
func BuildExtractionPrompt(s schema.CompiledSchema, text string, hints []schema.FieldDefinition) string {
	var sb strings.Builder
	sb.WriteString(extractionHeader)
	sb.WriteString("\n\n")
	sb.WriteString(s.Indented())

	if block := hintsBlock(hints); block != "" {
		sb.WriteString("\n\n")
		sb.WriteString(block)
	}

	sb.WriteString("\n\n")
	sb.WriteString(extractionRequirements)
	sb.WriteString("\n\nDOCUMENT TEXT TO ANALYZE:\n\n")
	sb.WriteString(text)
	return sb.String()
}

func hintsBlock(hints []schema.FieldDefinition) string {
	var lines []string
	for _, f := range hints {
		name := strings.TrimSpace(f.Name)
		desc := strings.TrimSpace(f.Description)
		if name == "" || desc == "" {
			continue
		}
		ftype := f.Type
		if !ftype.Valid() {
			ftype = schema.TypeString
		}
		lines = append(lines, "- "+name+" ("+string(ftype)+"): "+desc)
	}
	if len(lines) == 0 {
		return ""
	}
	return "FIELD HINTS (how to interpret / what to extract):\n" + strings.Join(lines, "\n")
}

// SummaryLevel selects one of three length directives for summaries.
type SummaryLevel string

const (
	SummaryShort    SummaryLevel = "short"
	SummaryBalanced SummaryLevel = "balanced"
	SummaryDetailed SummaryLevel = "detailed"
)

func (l SummaryLevel) lengthDirective() string {
	switch l {
	case SummaryShort:
		return "Write a very short summary (3-5 sentences)."
	case SummaryDetailed:
		return "Write a detailed, structured overview with key points and conclusions."
	default:
		return "Write a balanced summary (5-10 sentences) with the most important facts."
	}
}

// BuildSummaryPrompt composes the prompt for free-form document
// analysis. A non-empty focus adds a supplementary-focus block.
func BuildSummaryPrompt(text, focus string, level SummaryLevel) string {
	var sb strings.Builder
	sb.WriteString(`You are a document analysis assistant.

YOUR TASK:
1. Analyze the document text.
2. Identify the key ideas, facts, risks, and conclusions.
3. Produce a readable summary.

FORMAT REQUIREMENTS:
- `)
	sb.WriteString(level.lengthDirective())
	sb.WriteString(`
- Write nothing except the summary itself.
- Use bulleted or numbered lists when they make the answer easier to follow.`)

	if f := strings.TrimSpace(focus); f != "" {
		sb.WriteString("\n\nSUPPLEMENTARY ANALYSIS FOCUS:\n")
		sb.WriteString(f)
	}

	sb.WriteString("\n\nDOCUMENT TEXT:\n\n")
	sb.WriteString(text)
	return sb.String()
}
