// Package markfmt parses bulk bookmark-export files.
//
// Four vendor formats are supported, each behind the same Format interface:
//
//   - Netscape bookmark HTML (flat, TAGS attribute)
//   - tag-grouped bookmark HTML (<h3> headings are tags)
//   - Delicious-style XML (<posts><post .../></posts>)
//   - Firefox places JSON (nested folder tree)
//
// Detection is an explicit ordered list of strategies tried in sequence;
// each Detect inspects the byte slice from the start so detection never
// consumes anything. Individual malformed entries inside a file are skipped
// with a log line, never fatal to the whole parse.
package markfmt

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrUnknownFormat is returned when no format recognises the file.
var ErrUnknownFormat = errors.New("markfmt: unrecognised bookmark export format")

// RawBookmark is one parsed entry, before any dedup or persistence.
type RawBookmark struct {
	URL         string
	Description string
	Extended    string
	TagString   string // whitespace-separated tag tokens
	CreatedAt   time.Time
}

// Tags splits the tag string into individual tokens.
func (r RawBookmark) Tags() []string {
	return strings.Fields(r.TagString)
}

// Format is one export-format strategy.
type Format interface {
	// Name identifies the format in logs.
	Name() string
	// Detect reports whether data looks like this format. It must not
	// depend on any prior read position: data always starts at byte 0.
	Detect(data []byte) bool
	// Parse extracts all well-formed entries. Malformed individual
	// entries are logged and skipped.
	Parse(data []byte, log *slog.Logger) ([]RawBookmark, error)
}

// DefaultFormats returns the detection order used by Detect.
func DefaultFormats() []Format {
	return []Format{
		&NetscapeHTML{},
		&GroupedHTML{},
		&DeliciousXML{},
		&PlacesJSON{},
	}
}

// Detector dispatches a file to the first matching format.
type Detector struct {
	formats []Format
	logger  *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for skipped-entry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithFormats overrides the strategy list (tests, format subsets).
func WithFormats(formats ...Format) Option {
	return func(d *Detector) { d.formats = formats }
}

// NewDetector creates a Detector over the default format list.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		formats: DefaultFormats(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect returns the first format whose Detect accepts data, or
// ErrUnknownFormat.
func (d *Detector) Detect(data []byte) (Format, error) {
	for _, f := range d.formats {
		if f.Detect(data) {
			return f, nil
		}
	}
	return nil, ErrUnknownFormat
}

// Parse detects the format and parses the file with it. The returned name
// is the matched format's Name.
func (d *Detector) Parse(data []byte) ([]RawBookmark, string, error) {
	f, err := d.Detect(data)
	if err != nil {
		return nil, "", err
	}
	entries, err := f.Parse(data, d.logger.With("format", f.Name()))
	if err != nil {
		return nil, f.Name(), err
	}
	return entries, f.Name(), nil
}
