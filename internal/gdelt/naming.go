// Package gdelt knows how GDELT names and lays out its archive files.
package gdelt

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
)

const (
	DefaultDailyBaseURL    = "http://gdelt.umn.edu/data/dailyupdates/"
	DefaultBackfileBaseURL = "http://gdelt.umn.edu/data/backfiles/"
	DefaultDailyIndexURL   = "http://gdelt.umn.edu/data/dailyupdates/?O=D"

	// DefaultYearlyThreshold is the first year published as monthly backfiles.
	DefaultYearlyThreshold = 2006

	dailySuffix = ".export.CSV.zip"
	zipSuffix   = ".zip"
	csvSuffix   = ".csv"
)

// Source holds the remote locations of the GDELT archives.
type Source struct {
	DailyBaseURL    string
	BackfileBaseURL string
	DailyIndexURL   string
	YearlyThreshold int
}

// DefaultSource returns the locations used by the public GDELT mirror.
func DefaultSource() Source {
	return Source{
		DailyBaseURL:    DefaultDailyBaseURL,
		BackfileBaseURL: DefaultBackfileBaseURL,
		DailyIndexURL:   DefaultDailyIndexURL,
		YearlyThreshold: DefaultYearlyThreshold,
	}
}

// DailyFilename returns the YYYYMMDD.export.CSV.zip name for the given date.
func DailyFilename(date time.Time) string {
	return date.Format("20060102") + dailySuffix
}

// DailyRef returns the daily update archive for the given date.
func (s Source) DailyRef(date time.Time) domain.RemoteArchiveRef {
	name := DailyFilename(date)
	return domain.RemoteArchiveRef{
		URL:      joinURL(s.DailyBaseURL, name),
		Filename: name,
		Kind:     domain.KindDaily,
	}
}

// Yesterday returns the daily update archive for the day before now.
func (s Source) Yesterday(now time.Time) domain.RemoteArchiveRef {
	return s.DailyRef(now.AddDate(0, 0, -1))
}

// BackfileRefs returns the historical archives published for a year: one
// yearly file before the threshold, twelve monthly files from it onwards.
func (s Source) BackfileRefs(year int) ([]domain.RemoteArchiveRef, error) {
	if err := ValidateYear(year); err != nil {
		return nil, err
	}

	threshold := s.YearlyThreshold
	if threshold == 0 {
		threshold = DefaultYearlyThreshold
	}

	if year < threshold {
		name := fmt.Sprintf("%04d%s", year, zipSuffix)
		return []domain.RemoteArchiveRef{{
			URL:      joinURL(s.BackfileBaseURL, name),
			Filename: name,
			Kind:     domain.KindYearly,
		}}, nil
	}

	refs := make([]domain.RemoteArchiveRef, 0, 12)
	for month := 1; month <= 12; month++ {
		name := fmt.Sprintf("%04d%02d%s", year, month, zipSuffix)
		refs = append(refs, domain.RemoteArchiveRef{
			URL:      joinURL(s.BackfileBaseURL, name),
			Filename: name,
			Kind:     domain.KindMonthly,
		})
	}
	return refs, nil
}

// ResolveLink turns an href harvested from the daily listing into a ref.
func (s Source) ResolveLink(href string) (domain.RemoteArchiveRef, error) {
	base, err := url.Parse(s.DailyBaseURL)
	if err != nil {
		return domain.RemoteArchiveRef{}, fmt.Errorf("invalid daily base url %q: %w", s.DailyBaseURL, err)
	}
	rel, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return domain.RemoteArchiveRef{}, &domain.InvalidInputError{Field: "link", Value: href, Reason: err.Error()}
	}

	resolved := base.ResolveReference(rel)
	name := path.Base(resolved.Path)
	if name == "." || name == "/" || name == "" {
		return domain.RemoteArchiveRef{}, &domain.InvalidInputError{Field: "link", Value: href, Reason: "no file name"}
	}

	return domain.RemoteArchiveRef{
		URL:      resolved.String(),
		Filename: name,
		Kind:     domain.KindDaily,
	}, nil
}

// ValidateYear rejects years that cannot be formatted as a four digit year.
func ValidateYear(year int) error {
	if year < 1 || year > 9999 {
		return &domain.InvalidInputError{
			Field:  "year",
			Value:  strconv.Itoa(year),
			Reason: "must be between 1 and 9999",
		}
	}
	return nil
}

// ParseYear parses a single year argument.
func ParseYear(value string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &domain.InvalidInputError{Field: "year", Value: value, Reason: "not a number"}
	}
	if err := ValidateYear(year); err != nil {
		return 0, err
	}
	return year, nil
}

// ParseYearRange parses an inclusive range such as "1979-1981".
func ParseYearRange(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), "-")
	if len(parts) != 2 {
		return 0, 0, &domain.InvalidInputError{
			Field:  "year range",
			Value:  value,
			Reason: "expected START-END, e.g. 1979-1981",
		}
	}

	start, err := ParseYear(parts[0])
	if err != nil {
		return 0, 0, &domain.InvalidInputError{Field: "year range", Value: value, Reason: err.Error()}
	}
	end, err := ParseYear(parts[1])
	if err != nil {
		return 0, 0, &domain.InvalidInputError{Field: "year range", Value: value, Reason: err.Error()}
	}
	if start > end {
		return 0, 0, &domain.InvalidInputError{Field: "year range", Value: value, Reason: "start is after end"}
	}
	return start, end, nil
}

// Stem returns the archive filename without its .zip extension.
func Stem(filename string) string {
	if strings.HasSuffix(strings.ToLower(filename), zipSuffix) {
		return filename[:len(filename)-len(zipSuffix)]
	}
	return filename
}

// SkipMarkers lists the file names whose presence in the target directory
// means the archive was already downloaded, zipped or extracted.
func SkipMarkers(ref domain.RemoteArchiveRef) []string {
	stem := Stem(ref.Filename)
	markers := []string{ref.Filename}
	if stem != ref.Filename {
		markers = append(markers, stem)
	}
	if ref.Kind.IsBackfile() && !strings.HasSuffix(strings.ToLower(stem), csvSuffix) {
		markers = append(markers, stem+csvSuffix)
	}
	return markers
}

func joinURL(base, name string) string {
	if strings.HasSuffix(base, "/") {
		return base + name
	}
	return base + "/" + name
}
