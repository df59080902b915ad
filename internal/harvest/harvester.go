// Package harvest collects archive links from a directory-listing page.
package harvest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/cache"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/metrics"
)

const DefaultSuffix = ".zip"

type Harvester struct {
	client    *http.Client
	cache     cache.ListingCache
	userAgent string
	logger    zerolog.Logger
	metrics   *metrics.Recorder
}

type Option func(*Harvester)

func WithCache(c cache.ListingCache) Option {
	return func(h *Harvester) { h.cache = c }
}

func WithUserAgent(ua string) Option {
	return func(h *Harvester) { h.userAgent = ua }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(h *Harvester) { h.metrics = rec }
}

func New(client *http.Client, logger zerolog.Logger, opts ...Option) *Harvester {
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	h := &Harvester{
		client:    client,
		cache:     cache.NewNoopListingCache(),
		userAgent: "gdelt-fetch/1.0",
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Links fetches indexURL and returns the href of every anchor ending in
// suffix (case-insensitive), de-duplicated, in page order. An empty suffix
// means DefaultSuffix. Only the one page is read.
func (h *Harvester) Links(ctx context.Context, indexURL, suffix string) ([]string, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	log := h.logger.With().Str("index", indexURL).Logger()

	if links, ok, err := h.cache.GetLinks(ctx, indexURL, suffix); err != nil {
		log.Warn().Err(err).Msg("listing cache read failed")
	} else if ok {
		log.Debug().Int("links", len(links)).Msg("listing served from cache")
		return links, nil
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, &domain.NetworkError{URL: indexURL, Err: err}
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		h.metrics.Failure(metrics.StageHarvest)
		return nil, &domain.NetworkError{URL: indexURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.metrics.Failure(metrics.StageHarvest)
		return nil, &domain.NetworkError{URL: indexURL, StatusCode: resp.StatusCode}
	}

	links, err := ExtractLinks(resp.Body, suffix)
	if err != nil {
		h.metrics.Failure(metrics.StageHarvest)
		return nil, &domain.NetworkError{URL: indexURL, Err: err}
	}

	h.metrics.ObserveStage(metrics.StageHarvest, time.Since(start))
	log.Info().Int("links", len(links)).Msg("listing harvested")

	if err := h.cache.SetLinks(ctx, indexURL, suffix, links); err != nil {
		log.Warn().Err(err).Msg("listing cache write failed")
	}

	return links, nil
}

// ExtractLinks tokenizes an HTML document and returns matching anchor hrefs.
func ExtractLinks(r io.Reader, suffix string) ([]string, error) {
	suffix = strings.ToLower(suffix)
	seen := make(map[string]struct{})
	links := make([]string, 0)

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return links, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					href := strings.TrimSpace(string(val))
					if href != "" && strings.HasSuffix(strings.ToLower(href), suffix) {
						if _, dup := seen[href]; !dup {
							seen[href] = struct{}{}
							links = append(links, href)
						}
					}
				}
				if !more {
					break
				}
			}
		}
	}
}
