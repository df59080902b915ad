package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/ledger"
)

// Fetcher downloads a single URL into a directory.
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string) (domain.LocalArchive, error)
}

// Extractor unpacks a local archive into a directory.
type Extractor interface {
	Extract(zipPath, dir string) ([]domain.ExtractedFile, error)
}

// Publisher uploads a local file to the object store.
type Publisher interface {
	Publish(ctx context.Context, localPath, filename, bucket, folder string) (domain.UploadTarget, error)
}

// Harvester lists archive links from a directory-listing page.
type Harvester interface {
	Links(ctx context.Context, indexURL, suffix string) ([]string, error)
}

// Mode names a run in logs and the ledger.
type Mode string

const (
	ModeDaily   Mode = "fetch"
	ModeYear    Mode = "single"
	ModeRange   Mode = "range"
	ModeHarvest Mode = "daily"
)

// UploadOptions enables publishing after fetch (and extraction).
type UploadOptions struct {
	Bucket string
	Folder string
}

// Options apply to every mode.
type Options struct {
	Directory string
	Unzip     bool
	Upload    *UploadOptions
}

// Summary reports what a run did. Attempted counts archives that went to
// the network, so Attempted == Fetched + Failed.
type Summary struct {
	Mode      Mode                `json:"mode"`
	Attempted int                 `json:"attempted"`
	Fetched   int                 `json:"fetched"`
	Skipped   int                 `json:"skipped"`
	Failed    int                 `json:"failed"`
	Items     []domain.ItemResult `json:"items"`
	Duration  time.Duration       `json:"duration"`
}

func (s *Summary) add(item domain.ItemResult) {
	s.Items = append(s.Items, item)
	switch item.Outcome {
	case domain.OutcomeFetched:
		s.Attempted++
		s.Fetched++
	case domain.OutcomeSkipped:
		s.Skipped++
	case domain.OutcomeFailed:
		s.Attempted++
		s.Failed++
	}
}

// Totals converts the summary into ledger counts.
func (s Summary) Totals() ledger.Totals {
	return ledger.Totals{
		Attempted: s.Attempted,
		Fetched:   s.Fetched,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
	}
}
