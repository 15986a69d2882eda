package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/pkg/profile"
)

// EmailAnalysis scores a draft from 1 to 10 on each axis.
type EmailAnalysis struct {
	Personalization int      `json:"personalization"`
	SkillMatch      int      `json:"skill_match"`
	Professionalism int      `json:"professionalism"`
	Attractiveness  int      `json:"attractiveness"`
	Clarity         int      `json:"clarity"`
	Suggestions     []string `json:"suggestions"`
}

// Overall is the mean of the five scores.
func (a EmailAnalysis) Overall() float64 {
	return float64(a.Personalization+a.SkillMatch+a.Professionalism+a.Attractiveness+a.Clarity) / 5
}

const analysisSystem = "You are an expert reviewer of job application emails. Give objective, specific scores and suggestions."

// Analyze asks the model to score a drafted email against the posting and the
// candidate. It shares the generator's retry policy; replies that are not the
// requested JSON are retried.
func (g *Generator) Analyze(ctx context.Context, email models.GeneratedEmail, job profile.JobPosting, resume profile.Resume) (EmailAnalysis, error) {
	return complete(ctx, g, analysisSystem, analysisPrompt(email, job, resume), ParseAnalysis)
}

func analysisPrompt(email models.GeneratedEmail, job profile.JobPosting, resume profile.Resume) string {
	na := func(s string) string {
		if s == "" {
			return "N/A"
		}
		return s
	}

	var b strings.Builder
	b.WriteString("Analyze the effectiveness of this job application email.\n\n")
	fmt.Fprintf(&b, "Email:\nSubject: %s\n\n%s\n\n", email.Subject, email.Body)
	fmt.Fprintf(&b, "Job:\n- Title: %s\n- Company: %s\n- Required skills: %s\n\n",
		na(job.Title), na(job.Company), na(strings.Join(job.Skills, ", ")))
	fmt.Fprintf(&b, "Candidate:\n- Skills: %s\n- Positions: %d\n\n",
		na(strings.Join(resume.Skills, ", ")), len(resume.Experience))
	b.WriteString("Score each of personalization, skill_match, professionalism, attractiveness and clarity from 1 to 10.\n")
	b.WriteString(`Reply with JSON only: {"personalization": 0, "skill_match": 0, "professionalism": 0, "attractiveness": 0, "clarity": 0, "suggestions": ["..."]}`)
	return b.String()
}

// ParseAnalysis decodes a JSON reply, with or without a code fence.
func ParseAnalysis(text string) (EmailAnalysis, error) {
	var a EmailAnalysis
	if err := json.Unmarshal([]byte(stripFences(text)), &a); err != nil {
		return EmailAnalysis{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	for name, v := range map[string]int{
		"personalization": a.Personalization,
		"skill_match":     a.SkillMatch,
		"professionalism": a.Professionalism,
		"attractiveness":  a.Attractiveness,
		"clarity":         a.Clarity,
	} {
		if v < 1 || v > 10 {
			return EmailAnalysis{}, fmt.Errorf("%w: %s score %d is outside 1-10", ErrMalformedOutput, name, v)
		}
	}
	return a, nil
}
