// Package yellowpages implements scrape.Source against yellowpages.com
// search result pages using the Colly collector.
package yellowpages

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

const (
	defaultBaseURL = "https://www.yellowpages.com"
	defaultTimeout = 30 * time.Second

	// listingsPerPage is how many results a full search page carries. A
	// shorter page means pagination has run out.
	listingsPerPage = 30
)

// Config controls collector behavior.
type Config struct {
	// BaseURL overrides the yellowpages.com origin, used by tests.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Source fetches and parses one search result page per call.
type Source struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Source.
func New(cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	return &Source{cfg: cfg, base: c, logger: logger}
}

// Name reports the source identifier stored on scraped businesses.
func (s *Source) Name() string { return scrape.SourceYellowPages }

// FetchPage retrieves one search result page and extracts its listings.
// HasMore is true when a next-page link is present or the page is full.
func (s *Source) FetchPage(ctx context.Context, keyword, city string, page int) (scrape.PageResult, error) {
	target := s.searchURL(keyword, NormalizeLocation(city), page)

	var (
		result   scrape.PageResult
		fetchErr error
	)
	collector := s.base.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)

	collector.OnHTML("div.search-results div.result, div.organic div.result, article.result", func(e *colly.HTMLElement) {
		name := cleanName(e.ChildText("a.business-name"))
		if name == "" {
			name = cleanName(e.ChildText("h2, h3"))
		}
		if name == "" {
			return
		}
		website := strings.TrimSpace(e.ChildAttr("a.track-visit-website", "href"))
		result.Records = append(result.Records, scrape.Record{Name: name, Website: website})
	})
	collector.OnHTML("div.pagination a.next, a[rel=next]", func(*colly.HTMLElement) {
		result.HasMore = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		code := 0
		if r != nil {
			code = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch %s (status %d): %w", target, code, err)
	})

	if err := s.visit(ctx, collector, target); err != nil {
		return scrape.PageResult{}, err
	}
	if fetchErr != nil {
		return scrape.PageResult{}, fetchErr
	}
	if len(result.Records) >= listingsPerPage {
		result.HasMore = true
	}
	s.logger.Debug("fetched listing page",
		zap.String("city", city),
		zap.Int("page", page),
		zap.Int("listings", len(result.Records)),
		zap.Bool("has_more", result.HasMore),
	)
	return result, nil
}

func (s *Source) visit(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", target, err)
		}
		return nil
	}
}

func (s *Source) searchURL(keyword, location string, page int) string {
	q := url.Values{}
	q.Set("search_terms", keyword)
	q.Set("geo_location_terms", location)
	if page > 1 {
		q.Set("page", fmt.Sprintf("%d", page))
	}
	return s.cfg.BaseURL + "/search?" + q.Encode()
}

var leadingRank = regexp.MustCompile(`^\d+\.\s*`)

// cleanName strips the result ordinal prefix and keeps the first line.
func cleanName(name string) string {
	name = leadingRank.ReplaceAllString(strings.TrimSpace(name), "")
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if len(name) <= 2 {
		return ""
	}
	return name
}

var stateAbbrev = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY", "district of columbia": "DC",
}

// NormalizeLocation rewrites a city string into the "City, ST" form the
// search endpoint expects, mapping full state names to abbreviations.
// Inputs without a state component pass through with periods removed.
func NormalizeLocation(city string) string {
	city = strings.TrimSpace(city)
	parts := strings.SplitN(city, ",", 2)
	if len(parts) < 2 {
		return strings.TrimSpace(strings.ReplaceAll(city, ".", ""))
	}
	name := strings.TrimSpace(strings.ReplaceAll(parts[0], ".", ""))
	state := strings.TrimSpace(parts[1])
	if len(state) == 2 {
		state = strings.ToUpper(state)
	} else if abbr, ok := stateAbbrev[strings.ToLower(state)]; ok {
		state = abbr
	}
	return name + ", " + state
}
