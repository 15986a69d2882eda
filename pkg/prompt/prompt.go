// Package prompt assembles bounded generation prompts from retrieved context.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xhad/reachout/internal/models"
)

// DefaultBudget is the prompt size limit in characters.
const DefaultBudget = 6000

const DefaultStyle = "professional"

const defaultSystem = `You are an expert at writing job outreach emails. Write personalized, specific and concise cold emails that connect the candidate's skills and experience to the role. Use only facts present in the provided context.`

var styleGuides = map[string]string{
	"professional": "Use formal, professional language that highlights expertise and achievements.",
	"casual":       "Use a friendly, relaxed tone that shows personality and culture fit.",
	"enthusiastic": "Use energetic language that shows strong interest in the company and the role.",
}

// Styles lists the supported email styles in a stable order.
func Styles() []string {
	out := make([]string, 0, len(styleGuides))
	for s := range styleGuides {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// StyleGuide returns the instruction for style, falling back to professional.
func StyleGuide(style string) string {
	if g, ok := styleGuides[strings.ToLower(strings.TrimSpace(style))]; ok {
		return g
	}
	return styleGuides[DefaultStyle]
}

// Config holds the assembler settings.
type Config struct {
	BudgetChars        int
	SystemInstructions string
}

// Assembler builds prompts. It makes no external calls and is safe for
// concurrent use.
type Assembler struct {
	config Config
}

// New creates an Assembler. Zero values take the defaults.
func New(config Config) (*Assembler, error) {
	if config.BudgetChars < 0 {
		return nil, fmt.Errorf("%w: prompt budget must not be negative", models.ErrInvalidConfig)
	}
	if config.BudgetChars == 0 {
		config.BudgetChars = DefaultBudget
	}
	if strings.TrimSpace(config.SystemInstructions) == "" {
		config.SystemInstructions = defaultSystem
	}
	return &Assembler{config: config}, nil
}

// Budget returns the character limit.
func (a *Assembler) Budget() int { return a.config.BudgetChars }

// Assemble places the instructions first and then greedily adds whole chunks,
// best first, stopping at the first chunk that would exceed the budget.
// Chunks repeating the text of an included chunk are skipped.
func (a *Assembler) Assemble(result models.RetrievalResult, jobSummary, resumeSummary, style string) (models.Prompt, error) {
	p := models.Prompt{
		SystemInstructions: a.config.SystemInstructions,
		TaskQuery:          TaskQuery(jobSummary, resumeSummary, style),
	}

	size := p.Len()
	if size > a.config.BudgetChars {
		return models.Prompt{}, fmt.Errorf("%w: instructions need %d chars, budget is %d",
			models.ErrBudgetTooSmall, size, a.config.BudgetChars)
	}

	seen := make(map[string]struct{}, len(result))
	for _, hit := range result {
		text := strings.TrimSpace(hit.Chunk.Text)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		grown := size + len(models.ContextSeparator) + len(text)
		if len(p.Context) == 0 {
			grown += len(models.ContextHeader)
		}
		if grown > a.config.BudgetChars {
			break
		}
		seen[text] = struct{}{}
		p.Context = append(p.Context, text)
		size = grown
	}
	return p, nil
}

// TaskQuery is the fixed-shape task block for one draft.
func TaskQuery(jobSummary, resumeSummary, style string) string {
	var b strings.Builder
	b.WriteString("Write a cold outreach email for this role.\n\n")
	if s := strings.TrimSpace(jobSummary); s != "" {
		b.WriteString("Job:\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	if s := strings.TrimSpace(resumeSummary); s != "" {
		b.WriteString("Candidate:\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	b.WriteString("Requirements:\n")
	b.WriteString("1. Style: ")
	b.WriteString(StyleGuide(style))
	b.WriteString("\n2. Length: 150-250 words.\n")
	b.WriteString("3. Structure: greeting, introduction, matching skills, relevant experience, closing.\n")
	b.WriteString("4. Mention the role and company by name.\n\n")
	b.WriteString("Reply with the first line as \"Subject: <subject>\" followed by a blank line and the email body.")
	return b.String()
}
