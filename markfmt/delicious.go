package markfmt

import (
	"bytes"
	"encoding/xml"
	"log/slog"
	"strings"
	"time"
)

// DeliciousXML parses the del.icio.us-style posts export:
//
//	<posts user="...">
//	  <post href="..." description="..." extended="..." tag="a b" time="2010-12-01T10:00:00Z"/>
//	</posts>
type DeliciousXML struct{}

func (*DeliciousXML) Name() string { return "delicious-xml" }

// Detect accepts well-formed XML whose root element is <posts>.
func (*DeliciousXML) Detect(data []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local == "posts"
		}
	}
}

type deliciousPost struct {
	Href        string `xml:"href,attr"`
	Description string `xml:"description,attr"`
	Extended    string `xml:"extended,attr"`
	Tag         string `xml:"tag,attr"`
	Time        string `xml:"time,attr"`
}

type deliciousPosts struct {
	XMLName xml.Name        `xml:"posts"`
	Posts   []deliciousPost `xml:"post"`
}

func (*DeliciousXML) Parse(data []byte, log *slog.Logger) ([]RawBookmark, error) {
	var doc deliciousPosts
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	entries := make([]RawBookmark, 0, len(doc.Posts))
	for _, p := range doc.Posts {
		if strings.TrimSpace(p.Href) == "" {
			log.Warn("markfmt: skipping post without href", "description", p.Description)
			continue
		}
		entries = append(entries, RawBookmark{
			URL:         strings.TrimSpace(p.Href),
			Description: p.Description,
			Extended:    p.Extended,
			TagString:   strings.Join(strings.Fields(p.Tag), " "),
			CreatedAt:   parseISOTime(p.Time),
		})
	}
	return entries, nil
}

// parseISOTime parses the ISO-ish timestamps the XML export carries.
// Unparseable values yield the zero time rather than failing the entry.
func parseISOTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
