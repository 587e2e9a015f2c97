package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/gateway"
	"github.com/conciergehq/concierge/internal/log"
	"github.com/conciergehq/concierge/internal/provider"
)

const analyzeExcerptLen = 300

// AnalyzeInput names the page to summarize.
type AnalyzeInput struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

// AnalyzeOutput is the extracted summary of a fetched page.
type AnalyzeOutput struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	SiteName    string `json:"siteName,omitempty"`
	Description string `json:"description,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	WordCount   int    `json:"wordCount"`
}

// Analyze fetches a public web page and extracts its readable content.
// The fetch happens only after the budget manager approves the feature;
// the recorded cost reflects the amount of text extracted.
type Analyze struct {
	budget  *budget.Manager
	fetcher *fetcher
	logger  log.Logger
}

// NewAnalyze builds the URL-analysis tool. timeout bounds the whole
// fetch, including redirects.
func NewAnalyze(b *budget.Manager, timeout time.Duration, logger log.Logger) *Analyze {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Analyze{budget: b, fetcher: newFetcher(timeout), logger: logger}
}

func (t *Analyze) Name() string    { return "analyze" }
func (t *Analyze) Feature() string { return "analyze" }

func (t *Analyze) Run(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
	var in AnalyzeInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	target, err := parseTarget(in.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", gateway.ErrInvalidInput, err)
	}
	if err := t.budget.CheckAccess(sessionID, t.Feature()); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "concierge-analyze/1.0")

	resp, err := t.fetcher.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", target.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target.Host, err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), target)
	if err != nil {
		return nil, fmt.Errorf("extracting content from %s: %w", target.Host, err)
	}

	out := AnalyzeOutput{
		URL:       target.String(),
		Title:     article.Title,
		SiteName:  article.SiteName,
		Excerpt:   clip(article.Excerpt, analyzeExcerptLen),
		WordCount: len(strings.Fields(article.TextContent)),
	}

	// Readability misses meta descriptions on sparse pages; fall back
	// to the document's own tags.
	if doc, derr := goquery.NewDocumentFromReader(strings.NewReader(string(body))); derr == nil {
		out.Description = metaDescription(doc)
		if out.Title == "" {
			out.Title = strings.TrimSpace(doc.Find("title").First().Text())
		}
	}

	t.budget.RecordUsage(sessionID, t.Feature(), provider.EstimateTokens(article.TextContent))
	t.logger.Debug("page analyzed",
		"session_id", sessionID,
		"host", target.Host,
		"words", out.WordCount)
	return out, nil
}

// EnrichSnapshot records the analyzed site as the visitor's company.
// Called by the gateway after a successful run; a company already on the
// snapshot is kept, since an explicit earlier grounding beats a repeat
// lookup.
func (t *Analyze) EnrichSnapshot(output any, snap *conversation.Snapshot) {
	out, ok := output.(AnalyzeOutput)
	if !ok || snap.Company != nil {
		return
	}

	u, err := url.Parse(out.URL)
	if err != nil {
		return
	}
	name := out.SiteName
	if name == "" {
		name = out.Title
	}
	if name == "" && u.Host == "" {
		return
	}
	snap.Company = &conversation.Company{
		Name:   name,
		Domain: u.Host,
	}
}

func metaDescription(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
	} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if content = strings.TrimSpace(content); content != "" {
				return clip(content, analyzeExcerptLen)
			}
		}
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
