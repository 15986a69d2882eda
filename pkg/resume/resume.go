// Package resume extracts plain text and structured fields from resume uploads.
package resume

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/pkg/profile"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 10 << 20

// ErrUnsupportedFormat is returned for file types other than .txt, .md, .pdf and .docx.
var ErrUnsupportedFormat = errors.New("unsupported resume format")

// ExtractText returns the text of a resume file, chosen by extension.
func ExtractText(filename string, data []byte) (string, error) {
	if len(data) > MaxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes, limit is %d", models.ErrInvalidArgument, filename, len(data), MaxFileSize)
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".txt", ".md", "":
		return string(bytes.ToValidUTF8(data, nil)), nil
	case ".pdf":
		return extractPDFText(data)
	case ".docx":
		return extractDocxText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func extractPDFText(data []byte) (string, error) {
	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= pdfReader.NumPage(); i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}
	return strings.TrimSpace(textBuilder.String()), nil
}

var (
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	lineBreak    = regexp.MustCompile(`<w:(br|tab)[^>]*/>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

func extractDocxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	return docxXMLToText(doc.Editable().GetContent()), nil
}

// docxXMLToText flattens WordprocessingML into one line per paragraph.
func docxXMLToText(content string) string {
	content = paragraphEnd.ReplaceAllString(content, "\n")
	content = lineBreak.ReplaceAllString(content, " ")
	content = xmlTag.ReplaceAllString(content, "")
	content = html.UnescapeString(content)

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

var (
	emailPattern    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern    = regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`)
	linkedInPattern = regexp.MustCompile(`https?://(?:www\.)?linkedin\.com/in/[A-Za-z0-9-]+`)
	namePattern     = regexp.MustCompile(`^\p{Lu}[\p{L}'-]+(?: \p{Lu}[\p{L}'.-]*){1,3}$`)
	periodPattern   = regexp.MustCompile(`(?i)\b(19|20)\d{2}\b.*\b((19|20)\d{2}|present|current)\b`)
)

var sectionHeadings = map[string][]string{
	"summary":    {"summary", "objective", "profile", "about"},
	"experience": {"experience", "employment", "work history"},
	"education":  {"education", "academic"},
	"skills":     {"skills", "technical skills", "competencies", "technologies"},
}

var titleWords = []string{"engineer", "developer", "manager", "analyst", "specialist", "architect", "lead", "consultant"}

// Parse extracts structured fields from resume text. Fields that cannot be
// found are left empty.
func Parse(text string) profile.Resume {
	r := profile.Resume{
		RawText:  text,
		Email:    emailPattern.FindString(text),
		LinkedIn: linkedInPattern.FindString(text),
		Skills:   profile.ExtractSkills(text),
	}
	if m := phonePattern.FindString(text); m != "" {
		r.Phone = strings.TrimSpace(m)
	}

	lines := nonEmptyLines(text)
	for i, line := range lines {
		if i >= 5 {
			break
		}
		if len(line) < 50 && namePattern.MatchString(line) && sectionOf(line) == "" {
			r.Name = line
			break
		}
	}

	sections := splitSections(lines)
	r.Summary = strings.Join(sections["summary"], " ")
	r.Experience = parseExperience(sections["experience"])
	return r
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// sectionOf reports which section a short heading line opens.
func sectionOf(line string) string {
	if len(line) > 40 {
		return ""
	}
	lower := strings.ToLower(strings.Trim(line, ":# "))
	for name, keywords := range sectionHeadings {
		for _, k := range keywords {
			if lower == k || strings.HasPrefix(lower, k+" ") || strings.HasSuffix(lower, " "+k) {
				return name
			}
		}
	}
	return ""
}

func splitSections(lines []string) map[string][]string {
	sections := make(map[string][]string)
	current := ""
	for _, line := range lines {
		if name := sectionOf(line); name != "" {
			current = name
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], line)
		}
	}
	return sections
}

func parseExperience(lines []string) []profile.Experience {
	var (
		out []profile.Experience
		cur *profile.Experience
	)
	flush := func() {
		if cur != nil && *cur != (profile.Experience{}) {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, line := range lines {
		lower := strings.ToLower(line)
		switch {
		case periodPattern.MatchString(line):
			if cur != nil && cur.Period != "" {
				flush()
			}
			if cur == nil {
				cur = &profile.Experience{}
			}
			cur.Period = line
		case containsAny(lower, titleWords) && len(line) < 80:
			if cur != nil && cur.Title != "" {
				flush()
			}
			if cur == nil {
				cur = &profile.Experience{}
			}
			cur.Title = line
		default:
			if cur == nil {
				cur = &profile.Experience{}
			}
			if cur.Description == "" {
				cur.Description = line
			} else {
				cur.Description += " " + line
			}
		}
	}
	flush()
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
