// Package fetch retrieves and normalizes remote feed documents.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mailfeed/mailfeed/internal/modules/feed/domain"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
)

const (
	acceptHeader = "application/rss+xml, application/rdf+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/xml;q=0.8"
	userAgent    = "Mailfeed/1.0 (+https://github.com/mailfeed/mailfeed)"

	// Documents larger than this are treated as malformed rather than
	// buffered without bound.
	maxDocumentSize = 10 << 20
)

// Result is the outcome of a successful fetch+parse: canonical items in
// document order plus feed-level metadata used to backfill the Feed row.
type Result struct {
	Title string
	Type  domain.FeedType
	Items []domain.FeedItem
}

// Fetcher retrieves feed documents over HTTP(S) with a bounded timeout and
// parses them into canonical items. It has no persistence side effects and
// is idempotent: re-fetching an unchanged document yields the same items.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

func New(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  &http.Client{},
		timeout: timeout,
		now:     time.Now,
	}
}

// Fetch retrieves and parses the document at url. Failures are always a
// typed *Error (Unreachable, Timeout, MalformedDocument, UnsupportedFormat).
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError(KindUnreachable, url, err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, newError(classifyTransport(err), url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(KindUnreachable, url, errors.New(resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, newError(classifyTransport(err), url, err)
	}

	return f.parse(url, body)
}

// Validate performs the same fetch-and-parse as Fetch. It exists for the
// CRUD/API collaborator to check a feed URL synchronously, outside the
// poll cycle; nothing is persisted.
func (f *Fetcher) Validate(ctx context.Context, url string) (*Result, error) {
	return f.Fetch(ctx, url)
}

func (f *Fetcher) parse(url string, body []byte) (*Result, error) {
	// Detect format by content inspection, never by extension or header.
	feedType := domain.FeedTypeUnknown
	switch gofeed.DetectFeedType(bytes.NewReader(body)) {
	case gofeed.FeedTypeRSS:
		feedType = domain.FeedTypeRSS
	case gofeed.FeedTypeAtom:
		feedType = domain.FeedTypeAtom
	case gofeed.FeedTypeJSON:
		feedType = domain.FeedTypeJSON
	}
	if feedType == domain.FeedTypeUnknown {
		return nil, newError(KindUnsupportedFormat, url, errors.New("document is not RSS, Atom, or JSON Feed"))
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindMalformedDocument, url, err)
	}

	ingested := f.now()
	items := lo.Map(parsed.Items, func(entry *gofeed.Item, _ int) domain.FeedItem {
		return normalize(entry, parsed.Title, ingested)
	})

	return &Result{
		Title: strings.TrimSpace(parsed.Title),
		Type:  feedType,
		Items: items,
	}, nil
}

// normalize converts a raw entry into a canonical FeedItem, applying the
// title fallback chain (title -> description -> link -> feed title + date)
// and the publication date fallback (ingestion time).
func normalize(entry *gofeed.Item, feedTitle string, ingested time.Time) domain.FeedItem {
	pubDate := ingested
	if entry.PublishedParsed != nil {
		pubDate = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		pubDate = *entry.UpdatedParsed
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = firstLine(entry.Description)
	}
	if title == "" {
		title = entry.Link
	}
	if title == "" {
		title = strings.TrimSpace(feedTitle) + " " + pubDate.UTC().Format("2006-01-02 15:04")
	}

	author := ""
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		author = entry.Authors[0].Name
	} else if entry.Author != nil {
		author = entry.Author.Name
	}

	return domain.FeedItem{
		Title:       title,
		Link:        entry.Link,
		PubDate:     pubDate,
		Description: strings.TrimSpace(entry.Description),
		Author:      author,
		Categories:  entry.Categories,
		CreatedAt:   ingested,
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	const maxTitle = 120
	if len(s) > maxTitle {
		cut := maxTitle
		for cut > 0 && s[cut]&0xc0 == 0x80 { // don't split a UTF-8 sequence
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}
