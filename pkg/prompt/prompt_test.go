package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/reachout/internal/models"
)

func hits(texts ...string) models.RetrievalResult {
	out := make(models.RetrievalResult, len(texts))
	for i, t := range texts {
		out[i] = models.Hit{Chunk: models.Chunk{ID: fmt.Sprintf("c%d", i), Text: t}, Score: 1 - float64(i)/10}
	}
	return out
}

func baseLen(a *Assembler, job, resume, style string) int {
	return models.Prompt{SystemInstructions: a.config.SystemInstructions, TaskQuery: TaskQuery(job, resume, style)}.Len()
}

func TestAssemble_NeverExceedsBudget(t *testing.T) {
	chunks := hits(strings.Repeat("a", 40), strings.Repeat("b", 70), strings.Repeat("c", 10), strings.Repeat("d", 200))
	sizer, err := New(Config{SystemInstructions: "sys"})
	require.NoError(t, err)
	base := baseLen(sizer, "job", "resume", "casual")

	for extra := 0; extra < 400; extra += 7 {
		a, err := New(Config{SystemInstructions: "sys", BudgetChars: base + extra})
		require.NoError(t, err)

		p, err := a.Assemble(chunks, "job", "resume", "casual")
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Len(), a.Budget(), "budget %d", a.Budget())
		sent := len(p.SystemInstructions) + len(models.ContextSeparator) + len(p.UserMessage())
		assert.LessOrEqual(t, sent, a.Budget(), "rendered prompt, budget %d", a.Budget())
	}
}

func TestAssemble_GreedyFill(t *testing.T) {
	chunks := hits("first chunk", "second chunk", "third chunk that is long", "tiny")
	sizer, err := New(Config{SystemInstructions: "sys"})
	require.NoError(t, err)
	base := baseLen(sizer, "", "", "")

	// room for the first two chunks and one character less than the third
	budget := base + len(models.ContextHeader) + 2 + len("first chunk") + 2 + len("second chunk") + 2 + len("third chunk that is long") - 1
	a, err := New(Config{SystemInstructions: "sys", BudgetChars: budget})
	require.NoError(t, err)

	p, err := a.Assemble(chunks, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first chunk", "second chunk"}, p.Context)
	assert.LessOrEqual(t, p.Len(), budget)

	// the first rejected chunk would have overflowed
	next := p.Len() + len(models.ContextSeparator) + len("third chunk that is long")
	assert.Greater(t, next, budget)

	// dropping the last included chunk leaves the prompt strictly shorter
	shorter := p
	shorter.Context = p.Context[:len(p.Context)-1]
	assert.Less(t, shorter.Len(), p.Len())
}

func TestAssemble_StopsAtFirstOverflow(t *testing.T) {
	chunks := hits(strings.Repeat("x", 1200), "small")
	a, err := New(Config{SystemInstructions: "sys", BudgetChars: 1500})
	require.NoError(t, err)

	p, err := a.Assemble(chunks, "", "", "")
	require.NoError(t, err)
	assert.Empty(t, p.Context)
	assert.Contains(t, p.UserMessage(), p.TaskQuery)
}

func TestAssemble_BudgetTooSmall(t *testing.T) {
	a, err := New(Config{SystemInstructions: "sys", BudgetChars: 10})
	require.NoError(t, err)

	_, err = a.Assemble(hits("x"), "job", "resume", "professional")
	assert.ErrorIs(t, err, models.ErrBudgetTooSmall)
}

func TestAssemble_ExactFit(t *testing.T) {
	sizer, err := New(Config{SystemInstructions: "sys"})
	require.NoError(t, err)
	budget := baseLen(sizer, "j", "r", "") + len(models.ContextHeader) + 2 + len("fits")

	a, err := New(Config{SystemInstructions: "sys", BudgetChars: budget})
	require.NoError(t, err)
	p, err := a.Assemble(hits("fits"), "j", "r", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"fits"}, p.Context)
	assert.Equal(t, budget, p.Len())
	assert.Equal(t, budget, len(p.SystemInstructions)+len(models.ContextSeparator)+len(p.UserMessage()))

	// one character short of the header leaves the chunk out
	a, err = New(Config{SystemInstructions: "sys", BudgetChars: budget - 1})
	require.NoError(t, err)
	p, err = a.Assemble(hits("fits"), "j", "r", "")
	require.NoError(t, err)
	assert.Empty(t, p.Context)
}

func TestAssemble_SkipsDuplicateText(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)

	p, err := a.Assemble(hits("Go microservices", "  Go microservices ", "", "distributed tracing"), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go microservices", "distributed tracing"}, p.Context)
}

func TestAssemble_Deterministic(t *testing.T) {
	a, err := New(Config{BudgetChars: 2000})
	require.NoError(t, err)
	chunks := hits("one", "two", "three")

	first, err := a.Assemble(chunks, "job", "resume", "casual")
	require.NoError(t, err)
	second, err := a.Assemble(chunks, "job", "resume", "casual")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTaskQuery(t *testing.T) {
	q := TaskQuery("Backend Engineer at Acme", "Jane, Go developer", "enthusiastic")
	assert.Contains(t, q, "Backend Engineer at Acme")
	assert.Contains(t, q, "Jane, Go developer")
	assert.Contains(t, q, styleGuides["enthusiastic"])
	assert.Contains(t, q, "Subject:")

	assert.Contains(t, TaskQuery("", "", "unknown"), styleGuides["professional"])
	assert.NotContains(t, TaskQuery("", "", ""), "Job:")
}

func TestStyles(t *testing.T) {
	assert.Equal(t, []string{"casual", "enthusiastic", "professional"}, Styles())
	assert.Equal(t, styleGuides["casual"], StyleGuide(" Casual "))
}

func TestNew(t *testing.T) {
	_, err := New(Config{BudgetChars: -1})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	a, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBudget, a.Budget())
	assert.Equal(t, defaultSystem, a.config.SystemInstructions)
}
