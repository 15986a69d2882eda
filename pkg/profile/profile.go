// Package profile holds the structured job and candidate fields that feed the
// retrieval corpus and the prompt summaries.
package profile

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// JobPosting is the structured view of a scraped or pasted job description.
type JobPosting struct {
	URL              string   `json:"url,omitempty"`
	Title            string   `json:"title"`
	Company          string   `json:"company"`
	Location         string   `json:"location,omitempty"`
	Description      string   `json:"description"`
	Requirements     string   `json:"requirements,omitempty"`
	Responsibilities string   `json:"responsibilities,omitempty"`
	Skills           []string `json:"skills,omitempty"`
	ExperienceLevel  string   `json:"experience_level,omitempty"`
	EmploymentType   string   `json:"employment_type,omitempty"`
}

// Experience is one position on a resume.
type Experience struct {
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
	Period      string `json:"period,omitempty"`
	Description string `json:"description,omitempty"`
}

// Resume is the structured view of a candidate resume.
type Resume struct {
	Name       string       `json:"name,omitempty"`
	Email      string       `json:"email,omitempty"`
	Phone      string       `json:"phone,omitempty"`
	LinkedIn   string       `json:"linkedin,omitempty"`
	Summary    string       `json:"summary,omitempty"`
	Skills     []string     `json:"skills,omitempty"`
	Experience []Experience `json:"experience,omitempty"`
	RawText    string       `json:"-"`
}

// SkillMatch compares required skills against the candidate's.
type SkillMatch struct {
	Matched    []string `json:"matched"`
	Missing    []string `json:"missing"`
	Percentage float64  `json:"percentage"`
}

var skillKeywords = []string{
	"go", "golang", "python", "java", "javascript", "typescript", "rust", "c++", "c#",
	"react", "angular", "vue", "node.js", "sql", "mongodb", "postgresql", "mysql", "redis",
	"kafka", "rabbitmq", "grpc", "aws", "azure", "gcp", "docker", "kubernetes", "terraform",
	"git", "linux", "machine learning", "ai", "deep learning", "tensorflow", "pytorch",
	"scikit-learn", "pandas", "numpy", "html", "css", "django", "flask", "fastapi", "spring",
	"jenkins", "ci/cd", "agile", "scrum", "rest api", "graphql", "microservices",
	"distributed systems", "serverless", "lambda", "s3", "ec2", "observability",
}

var skillPatterns = compileSkills(skillKeywords)

func compileSkills(skills []string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(skills))
	for _, s := range skills {
		out[s] = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}+#/])` + regexp.QuoteMeta(s) + `(?:$|[^\p{L}\p{N}+#/])`)
	}
	return out
}

// ExtractSkills returns the known skills mentioned in text, sorted. Matches
// respect word boundaries, so "ai" does not match inside "maintain".
func ExtractSkills(text string) []string {
	var found []string
	for skill, re := range skillPatterns {
		if re.MatchString(text) {
			found = append(found, skill)
		}
	}
	sort.Strings(found)
	return found
}

var levelKeywords = []struct {
	level    string
	keywords []string
}{
	{"Entry", []string{"entry level", "junior", "0-1 years", "1 year"}},
	{"Mid", []string{"mid level", "intermediate", "2-4 years", "3 years", "4 years"}},
	{"Senior", []string{"senior", "lead", "5+ years", "5 years", "6 years", "7 years"}},
	{"Expert", []string{"expert", "principal", "architect", "10+ years"}},
}

// ExperienceLevel guesses the seniority a job text asks for.
func ExperienceLevel(text string) string {
	lower := strings.ToLower(text)
	for _, l := range levelKeywords {
		for _, k := range l.keywords {
			if strings.Contains(lower, k) {
				return l.level
			}
		}
	}
	return ""
}

var employmentKeywords = []struct {
	kind     string
	keywords []string
}{
	{"Full-time", []string{"full time", "full-time", "fulltime"}},
	{"Part-time", []string{"part time", "part-time", "parttime"}},
	{"Contract", []string{"contract", "contractor"}},
	{"Internship", []string{"internship", "intern "}},
	{"Remote", []string{"remote", "work from home"}},
}

// EmploymentType guesses the employment type of a job text.
func EmploymentType(text string) string {
	lower := strings.ToLower(text)
	for _, e := range employmentKeywords {
		for _, k := range e.keywords {
			if strings.Contains(lower, k) {
				return e.kind
			}
		}
	}
	return ""
}

// Enrich fills Skills, ExperienceLevel and EmploymentType from the free text
// when they are not already set.
func (j *JobPosting) Enrich() {
	text := j.Description + "\n" + j.Requirements + "\n" + j.Responsibilities
	if len(j.Skills) == 0 {
		j.Skills = ExtractSkills(text)
	}
	if j.ExperienceLevel == "" {
		j.ExperienceLevel = ExperienceLevel(j.Title + "\n" + text)
	}
	if j.EmploymentType == "" {
		j.EmploymentType = EmploymentType(text)
	}
}

// JobFromText builds a posting from pasted description text.
func JobFromText(text string) JobPosting {
	j := JobPosting{Description: strings.TrimSpace(text)}
	j.Enrich()
	return j
}

// MatchSkills reports which job skills the candidate covers. A skill counts as
// covered when either name contains the other, case-insensitively.
func MatchSkills(jobSkills, resumeSkills []string) SkillMatch {
	m := SkillMatch{Matched: []string{}, Missing: []string{}}
	if len(jobSkills) == 0 {
		return m
	}

	have := make([]string, 0, len(resumeSkills))
	for _, s := range resumeSkills {
		if s = normalizeSkill(s); s != "" {
			have = append(have, s)
		}
	}

	seen := make(map[string]struct{}, len(jobSkills))
	for _, js := range jobSkills {
		js = normalizeSkill(js)
		if js == "" {
			continue
		}
		if _, dup := seen[js]; dup {
			continue
		}
		seen[js] = struct{}{}

		covered := false
		for _, rs := range have {
			if strings.Contains(rs, js) || strings.Contains(js, rs) {
				covered = true
				break
			}
		}
		if covered {
			m.Matched = append(m.Matched, js)
		} else {
			m.Missing = append(m.Missing, js)
		}
	}

	if total := len(m.Matched) + len(m.Missing); total > 0 {
		m.Percentage = math.Round(float64(len(m.Matched))/float64(total)*10000) / 100
	}
	return m
}

func normalizeSkill(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// JobSummary is a short description of the job, one fact per line.
func JobSummary(j JobPosting) string {
	var lines []string
	switch {
	case j.Title != "" && j.Company != "":
		lines = append(lines, fmt.Sprintf("Position: %s at %s", j.Title, j.Company))
	case j.Title != "":
		lines = append(lines, "Position: "+j.Title)
	case j.Company != "":
		lines = append(lines, "Company: "+j.Company)
	}
	if j.Location != "" {
		lines = append(lines, "Location: "+j.Location)
	}
	if j.ExperienceLevel != "" {
		lines = append(lines, "Experience level: "+j.ExperienceLevel)
	}
	if j.EmploymentType != "" {
		lines = append(lines, "Employment type: "+j.EmploymentType)
	}
	if len(j.Skills) > 0 {
		lines = append(lines, "Required skills: "+strings.Join(j.Skills, ", "))
	}
	if len(lines) == 0 {
		lines = append(lines, firstSentence(j.Description))
	}
	return strings.Join(lines, "\n")
}

// ResumeSummary is a short description of the candidate, one fact per line.
func ResumeSummary(r Resume) string {
	var lines []string
	if r.Name != "" {
		lines = append(lines, "Candidate: "+r.Name)
	}
	if r.Summary != "" {
		lines = append(lines, "Summary: "+r.Summary)
	}
	if len(r.Skills) > 0 {
		lines = append(lines, "Skills: "+strings.Join(r.Skills, ", "))
	}
	for _, e := range r.Experience {
		if e.Title == "" {
			continue
		}
		line := "Experience: " + e.Title
		if e.Company != "" {
			line += " at " + e.Company
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, firstSentence(r.RawText))
	}
	return strings.Join(lines, "\n")
}

// MatchSummary describes how the candidate covers the role.
func MatchSummary(j JobPosting, r Resume) string {
	m := MatchSkills(j.Skills, r.Skills)
	if len(m.Matched) == 0 {
		return ""
	}
	return fmt.Sprintf("Matched skills: %s (%.0f%% of required)", strings.Join(m.Matched, ", "), m.Percentage)
}

// JobText renders the posting as the job corpus, one field per paragraph.
func JobText(j JobPosting) string {
	var parts []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Job Title", j.Title)
	add("Company", j.Company)
	add("Location", j.Location)
	add("Job Description", j.Description)
	add("Requirements", j.Requirements)
	add("Responsibilities", j.Responsibilities)
	add("Required Skills", strings.Join(j.Skills, ", "))
	add("Experience Level", j.ExperienceLevel)
	add("Employment Type", j.EmploymentType)
	return strings.Join(parts, "\n\n")
}

// ResumeText renders the resume as the candidate corpus. The raw text is used
// when present since it carries details the parser does not model.
func ResumeText(r Resume) string {
	if strings.TrimSpace(r.RawText) != "" {
		return r.RawText
	}

	var parts []string
	if r.Name != "" {
		parts = append(parts, "Candidate Name: "+r.Name)
	}
	if r.Summary != "" {
		parts = append(parts, "Professional Summary: "+r.Summary)
	}
	if len(r.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(r.Skills, ", "))
	}
	for _, e := range r.Experience {
		var fields []string
		for _, f := range [][2]string{{"Title", e.Title}, {"Company", e.Company}, {"Period", e.Period}, {"Description", e.Description}} {
			if f[1] != "" {
				fields = append(fields, f[0]+": "+f[1])
			}
		}
		if len(fields) > 0 {
			parts = append(parts, strings.Join(fields, " - "))
		}
	}
	return strings.Join(parts, "\n\n")
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = text[:i+1]
	}
	if r := []rune(text); len(r) > 200 {
		text = string(r[:200])
	}
	return text
}
