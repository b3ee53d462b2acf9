package extract

import (
	"errors"
	"strings"
	"testing"
)

const articlePage = `<!DOCTYPE html>
<html><head><title>Why ducks swim</title></head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a> <a href="/blog">Blog</a></nav>
<article>
<h1>Why ducks swim</h1>
<p>Ducks swim because their feet are webbed and their feathers are coated
with a waterproof oil that they spread while preening. This keeps them
buoyant even in cold water and lets them dabble for food below the surface.</p>
<p>Most species also sleep afloat, tucking one leg up to conserve heat.</p>
</article>
<footer>Copyright nobody</footer>
</body></html>`

func TestReadableArticle(t *testing.T) {
	res, err := Readable([]byte(articlePage), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Title != "Why ducks swim" {
		t.Errorf("title = %q", res.Title)
	}
	if !strings.Contains(res.Text, "webbed") {
		t.Errorf("text missing article body: %q", res.Text)
	}
	if strings.Contains(res.Text, "Copyright nobody") {
		t.Errorf("text contains footer boilerplate: %q", res.Text)
	}
}

func TestReadableDensityFallback(t *testing.T) {
	// No <main>/<article> landmarks: density scoring must find the big div.
	page := `<html><head><title>t</title></head><body>
	<div class="menu"><a href="/a">a</a><a href="/b">b</a><a href="/c">c</a></div>
	<div>` + strings.Repeat("<p>Real content sentence with enough words to matter here.</p>", 8) + `</div>
	</body></html>`

	res, err := Readable([]byte(page), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "Real content sentence") {
		t.Errorf("density extraction missed content: %q", res.Text)
	}
}

func TestReadableEmptyDocument(t *testing.T) {
	_, err := Readable([]byte("<html><body></body></html>"), Options{})
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestReadableStripsScripts(t *testing.T) {
	page := `<html><body><article>
	<script>alert("nope")</script>
	<p>Visible paragraph text that is long enough to pass the minimum length gate.</p>
	</article></body></html>`

	res, err := Readable([]byte(page), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Text, "alert") {
		t.Errorf("script leaked into text: %q", res.Text)
	}
	if strings.Contains(res.HTML, "<script") {
		t.Errorf("script survived sanitizer: %q", res.HTML)
	}
}

func TestCleanText(t *testing.T) {
	in := "  a\u200b  b\t\tc\n\n\n\nd  "
	got := CleanText(in)
	if got != "a b c\n\nd" {
		t.Errorf("CleanText = %q", got)
	}
}

func TestCleanTextStripsInvisibles(t *testing.T) {
	in := "\ufeffzero\u200bwidth\u200cjoin\u200der soft\u00adhyphen"
	got := CleanText(in)
	if got != "zerowidthjoiner softhyphen" {
		t.Errorf("CleanText = %q", got)
	}
}
