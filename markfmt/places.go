package markfmt

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Firefox places type strings.
const (
	mozContainer = "text/x-moz-place-container"
	mozPlace     = "text/x-moz-place"
)

// Schemes that identify internal/non-web entries in a places export.
var blockedSchemes = map[string]bool{
	"data":       true,
	"place":      true,
	"javascript": true,
}

// PlacesJSON parses the Firefox bookmark-backup JSON: a nested tree of
// folder containers with leaf "place" entries. The tags folder's immediate
// children are folders whose names become tags on the places inside them;
// a place appearing in several tag folders gets the tags unioned into one
// entry, never duplicated.
type PlacesJSON struct{}

func (*PlacesJSON) Name() string { return "places-json" }

type mozNode struct {
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Root      string    `json:"root"`
	URI       string    `json:"uri"`
	DateAdded int64     `json:"dateAdded"` // microseconds since epoch
	Children  []mozNode `json:"children"`
}

// Detect accepts JSON whose top-level type field is the places container type.
func (*PlacesJSON) Detect(data []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return false
	}
	return head.Type == mozContainer
}

func (*PlacesJSON) Parse(data []byte, log *slog.Logger) ([]RawBookmark, error) {
	var root mozNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	w := &placesWalker{
		byURI: make(map[string]*RawBookmark),
		log:   log,
	}

	// Two passes over the root's children: tag folders label their places,
	// ordinary folders contribute the untagged tree.
	for i := range root.Children {
		child := &root.Children[i]
		if isTagsFolder(child) {
			for j := range child.Children {
				tagFolder := &child.Children[j]
				if tagFolder.Type != mozContainer {
					continue
				}
				w.walk(tagFolder, normaliseTag(tagFolder.Title))
			}
		} else {
			w.walk(child, "")
		}
	}

	entries := make([]RawBookmark, 0, len(w.order))
	for _, u := range w.order {
		entries = append(entries, *w.byURI[u])
	}
	return entries, nil
}

// isTagsFolder identifies the special tags container. Firefox marks it with
// root == "tagsFolder"; older backups only carry the title.
func isTagsFolder(n *mozNode) bool {
	if n.Type != mozContainer {
		return false
	}
	return n.Root == "tagsFolder" || strings.EqualFold(n.Title, "tags")
}

type placesWalker struct {
	byURI map[string]*RawBookmark
	order []string
	log   *slog.Logger
}

// walk visits a container recursively, collecting leaf places. tag, when
// non-empty, is added to every place found beneath this container.
func (w *placesWalker) walk(n *mozNode, tag string) {
	for i := range n.Children {
		c := &n.Children[i]
		switch c.Type {
		case mozContainer:
			w.walk(c, tag)
		case mozPlace:
			w.visitPlace(c, tag)
		}
	}
}

func (w *placesWalker) visitPlace(n *mozNode, tag string) {
	uri := strings.TrimSpace(n.URI)
	if uri == "" {
		w.log.Warn("markfmt: skipping place without uri", "title", n.Title)
		return
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		w.log.Warn("markfmt: skipping place with malformed uri", "uri", uri)
		return
	}
	if blockedSchemes[parsed.Scheme] {
		return
	}

	entry, ok := w.byURI[uri]
	if !ok {
		entry = &RawBookmark{
			URL:         uri,
			Description: n.Title,
			CreatedAt:   mozTime(n.DateAdded),
		}
		w.byURI[uri] = entry
		w.order = append(w.order, uri)
	}
	if tag != "" {
		tags := make(map[string]bool)
		for _, t := range entry.Tags() {
			tags[t] = true
		}
		tags[tag] = true
		entry.TagString = joinTagSet(tags)
	}
	if entry.Description == "" {
		entry.Description = n.Title
	}
}

// mozTime converts a places timestamp (microseconds since epoch) to a Time.
func mozTime(micros int64) time.Time {
	if micros <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}
