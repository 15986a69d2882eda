package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/pkg/profile"
)

type ScraperConfig struct {
	RateLimit      float64 // requests per second
	Timeout        time.Duration
	UserAgent      string
	MaxBodyBytes   int64
	IgnorePatterns []string
	OnProgress     func(url string)
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.RateLimit < 0 || config.Timeout < 0 || config.MaxBodyBytes < 0 {
		return nil, fmt.Errorf("%w: scraper limits must not be negative", models.ErrInvalidConfig)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; reachout/1.0)"
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 5 << 20
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// ValidateURL accepts absolute http and https URLs not matching an ignore pattern.
func (s *Scraper) ValidateURL(urlStr string) (*url.URL, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", models.ErrInvalidArgument, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: url %q has no host", models.ErrInvalidArgument, urlStr)
	}
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return nil, fmt.Errorf("%w: url %q is ignored", models.ErrInvalidArgument, urlStr)
		}
	}
	return parsedURL, nil
}

// FetchJob downloads one job page and extracts the posting.
func (s *Scraper) FetchJob(ctx context.Context, urlStr string) (profile.JobPosting, error) {
	parsedURL, err := s.ValidateURL(urlStr)
	if err != nil {
		return profile.JobPosting{}, err
	}

	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return profile.JobPosting{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsedURL.String(), nil)
	if err != nil {
		return profile.JobPosting{}, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return profile.JobPosting{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return profile.JobPosting{}, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, s.config.MaxBodyBytes))
	if err != nil {
		return profile.JobPosting{}, err
	}

	job := ParseJob(doc, parsedURL)
	if job.Description == "" {
		return profile.JobPosting{}, fmt.Errorf("no job description found at %s", urlStr)
	}
	return job, nil
}

// ParseJob extracts a posting from a parsed page.
func ParseJob(doc *goquery.Document, pageURL *url.URL) profile.JobPosting {
	job := profile.JobPosting{
		URL:              pageURL.String(),
		Title:            firstText(doc, "h1", ".job-title", "[class*='job-title']", "[data-testid='job-title']", "title"),
		Company:          extractCompany(doc, pageURL),
		Location:         firstText(doc, ".location", ".job-location", "[class*='location']", "[data-testid='location']"),
		Description:      extractMainContent(doc),
		Requirements:     extractSection(doc, "requirement", "qualification", "what you bring", "skills"),
		Responsibilities: extractSection(doc, "responsibilit", "what you'll do", "what you will do", "duties"),
	}
	job.Enrich()
	return job
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		if selected := doc.Find(selector).First(); selected.Length() > 0 {
			if text := cleanContent(selected.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func extractCompany(doc *goquery.Document, pageURL *url.URL) string {
	if name, ok := doc.Find("meta[property='og:site_name']").Attr("content"); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	if name := firstText(doc, ".company", ".company-name", "[class*='company']", "[data-testid='company-name']"); name != "" {
		return name
	}
	host := strings.TrimPrefix(pageURL.Hostname(), "www.")
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

func cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func extractMainContent(doc *goquery.Document) string {
	// Try to find main content area
	selectors := []string{
		".job-description",
		"#job-description",
		"[class*='description']",
		"main",
		"article",
		".content",
		"#content",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector).First(); selected.Length() > 0 {
			content = blockText(selected)
			if content != "" {
				break
			}
		}
	}

	// Fallback to body if no main content found
	if content == "" {
		body := doc.Find("body").Clone()
		body.Find("script, style, nav, header, footer").Remove()
		content = blockText(body)
	}
	return content
}

// blockText keeps one paragraph per block element so sentence and paragraph
// boundaries survive into the corpus.
func blockText(sel *goquery.Selection) string {
	var paras []string
	sel.Find("h1, h2, h3, h4, p, li").Each(func(_ int, s *goquery.Selection) {
		if text := cleanContent(s.Text()); text != "" {
			paras = append(paras, text)
		}
	})
	if len(paras) == 0 {
		return cleanContent(sel.Text())
	}
	return strings.Join(paras, "\n\n")
}

// extractSection returns the list or paragraphs following the first heading
// that contains one of the keywords.
func extractSection(doc *goquery.Document, keywords ...string) string {
	var out string
	doc.Find("h2, h3, h4, strong").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		heading := strings.ToLower(h.Text())
		for _, k := range keywords {
			if !strings.Contains(heading, k) {
				continue
			}
			next := h.NextAll().First()
			if h.Is("strong") {
				next = h.Parent().NextAll().First()
			}
			var items []string
			next.Find("li").Each(func(_ int, li *goquery.Selection) {
				if text := cleanContent(li.Text()); text != "" {
					items = append(items, text)
				}
			})
			if len(items) == 0 {
				if text := cleanContent(next.Text()); text != "" {
					items = append(items, text)
				}
			}
			if len(items) > 0 {
				out = strings.Join(items, "\n")
				return false
			}
		}
		return true
	})
	return out
}
