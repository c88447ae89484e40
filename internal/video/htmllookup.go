package video

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var videoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// maxPageSize caps how much of a page HTMLLookup reads.
const maxPageSize = 10 << 20

// HTMLLookup finds YouTube video links by scanning a page's anchors. A link
// that is itself a video resolves to that video without a request.
type HTMLLookup struct {
	Client *http.Client
}

// NewHTMLLookup creates an HTMLLookup with a bounded HTTP client.
func NewHTMLLookup() *HTMLLookup {
	return &HTMLLookup{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (l *HTMLLookup) Lookup(ctx context.Context, link string) ([]string, error) {
	base, err := url.Parse(link)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid link %q", link)
	}
	if u, ok := WatchURL(link, nil); ok {
		return []string{u}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", link, resp.StatusCode)
	}

	return extractWatchURLs(io.LimitReader(resp.Body, maxPageSize), base)
}

// extractWatchURLs returns the distinct video URLs linked from the document,
// in order of first appearance.
func extractWatchURLs(r io.Reader, base *url.URL) ([]string, error) {
	var out []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("parsing page: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr || (string(name) != "a" && string(name) != "link") {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					if u, ok := WatchURL(string(val), base); ok {
						out = dedupe(out, []string{u})
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

// WatchURL normalizes a YouTube video reference to
// https://www.youtube.com/watch?v=ID. Relative references resolve against
// base when it is non-nil.
func WatchURL(raw string, base *url.URL) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch host {
	case "youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/shorts/"):
			id = strings.TrimPrefix(u.Path, "/shorts/")
		case strings.HasPrefix(u.Path, "/embed/"):
			id = strings.TrimPrefix(u.Path, "/embed/")
		}
	case "youtu.be":
		id = strings.TrimPrefix(u.Path, "/")
	}
	if !videoID.MatchString(id) {
		return "", false
	}
	return "https://www.youtube.com/watch?v=" + id, true
}
