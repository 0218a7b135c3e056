package service

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"rag-honglou/pkg/config"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ScraperService fetches web pages and stores them as normalized text
// files in the raw data directory.
type ScraperService struct {
	client *resty.Client
	config *config.ScraperConfig
	rawDir string
	logger *zap.Logger
}

func NewScraperService(cfg *config.ScraperConfig, rawDir string, logger *zap.Logger) *ScraperService {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRetryCount(2)

	return &ScraperService{
		client: client,
		config: cfg,
		rawDir: rawDir,
		logger: logger,
	}
}

// Scrape fetches every target URL and writes one normalized text file
// per page. A failing target is logged and skipped, it never aborts the
// batch. Re-fetching a URL overwrites its previous file, so the output
// is deduplicated by origin. Returns the paths written.
func (s *ScraperService) Scrape(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		urls = s.config.DefaultURLs
	}

	if err := os.MkdirAll(s.rawDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create raw data directory: %w", err)
	}

	var written []string
	for _, target := range urls {
		path, err := s.scrapeOne(ctx, target)
		if err != nil {
			s.logger.Error("Failed to scrape URL",
				zap.String("url", target),
				zap.Error(err),
			)
			continue
		}
		written = append(written, path)
	}

	s.logger.Info("Web scraping completed",
		zap.Int("targets", len(urls)),
		zap.Int("files", len(written)),
	)
	return written, nil
}

func (s *ScraperService) scrapeOne(ctx context.Context, target string) (string, error) {
	resp, err := s.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode())
	}

	text, err := extractPageText(resp.Body())
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("page contains no text")
	}

	path := filepath.Join(s.rawDir, urlSlug(target)+".md")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write page text: %w", err)
	}

	s.logger.Info("Page scraped",
		zap.String("url", target),
		zap.String("file", path),
		zap.Int("text_length", len(text)),
	)
	return path, nil
}

// extractPageText reduces an HTML document to normalized plain text:
// scripts, styles and navigation are dropped, whitespace is collapsed.
func extractPageText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString("# " + title + "\n\n")
	}

	root := doc.Find("body")
	root.Find("h1, h2, h3, h4, p, li, td, blockquote").Each(func(_ int, sel *goquery.Selection) {
		line := normalizeSpace(sel.Text())
		if line == "" {
			return
		}
		b.WriteString(line)
		b.WriteString("\n")
	})

	text := strings.TrimSpace(b.String())
	if text == "" {
		// Pages without block markup still get their raw body text.
		text = normalizeSpace(root.Text())
	}
	return text, nil
}

var spaceRe = regexp.MustCompile(`[ \t\r\f]+`)

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

var slugRe = regexp.MustCompile(`[^a-zA-Z0-9\p{Han}._-]+`)

// urlSlug derives a stable file name from a URL so that re-fetching the
// same origin always lands on the same path.
func urlSlug(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return slugRe.ReplaceAllString(target, "_")
	}

	p, unescapeErr := url.PathUnescape(u.Path)
	if unescapeErr != nil {
		p = u.Path
	}
	slug := u.Host + strings.ReplaceAll(p, "/", "_")
	slug = slugRe.ReplaceAllString(slug, "_")
	return strings.Trim(slug, "_")
}
