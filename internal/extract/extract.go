package extract

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/Develata/rss-ai-news/internal/config"
	"github.com/Develata/rss-ai-news/internal/fetch"
)

const (
	// jsonMaxItems caps how many entries a JSON-list endpoint contributes.
	jsonMaxItems = 30
	// minBodyChars is the noise floor for extracted page text.
	minBodyChars = 50
)

// Item is the transient result of extracting one feed entry. It is consumed
// by the dedup/persist stage and never stored directly.
type Item struct {
	Title       string
	Link        string
	Summary     string
	Body        string
	Fingerprint string
	Category    string
	Source      string
	FetchedAt   time.Time
}

// Extractor turns raw source bytes into normalized items, fetching linked
// pages for full-text categories.
type Extractor struct {
	fetcher *fetch.Fetcher
	parser  *gofeed.Parser
}

// New creates an Extractor backed by the given fetcher.
func New(f *fetch.Fetcher) *Extractor {
	return &Extractor{fetcher: f, parser: gofeed.NewParser()}
}

// entry is a format-neutral feed entry before body extraction.
type entry struct {
	title     string
	link      string
	summary   string
	published *time.Time
}

// Extract fetches one source and returns its normalized items. Entries older
// than cutoff are dropped (feed sources only). A single entry failing body
// extraction is skipped; it never fails the source.
func (e *Extractor) Extract(ctx context.Context, src config.Source, cutoff time.Time) ([]Item, error) {
	raw, err := e.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		slog.Warn("empty source payload", "source", src.Name)
		return nil, nil
	}

	var entries []entry
	if src.Format == config.FormatJSONList {
		entries, err = parseJSONList(raw)
	} else {
		entries, err = e.parseFeed(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", src.Name, err)
	}

	now := time.Now().UTC()
	var items []Item
	for _, en := range entries {
		if en.link == "" {
			continue
		}
		if src.Format == config.FormatFeed && en.published != nil && en.published.Before(cutoff) {
			continue
		}

		var body string
		if src.HeadlineOnly {
			body = headlineBody(en)
		} else {
			body = e.pageText(ctx, en.link)
			if body == "" {
				continue
			}
		}

		items = append(items, Item{
			Title:       strings.TrimSpace(en.title),
			Link:        en.link,
			Summary:     en.summary,
			Body:        body,
			Fingerprint: Fingerprint(body),
			Category:    src.Category,
			Source:      src.Name,
			FetchedAt:   now,
		})
	}

	return items, nil
}

func (e *Extractor) parseFeed(raw []byte) ([]entry, error) {
	feed, err := e.parser.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var entries []entry
	for _, item := range feed.Items {
		en := entry{
			title:   item.Title,
			link:    item.Link,
			summary: item.Description,
		}
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			en.published = &t
		} else if item.UpdatedParsed != nil {
			t := item.UpdatedParsed.UTC()
			en.published = &t
		}
		entries = append(entries, en)
	}
	return entries, nil
}

// parseJSONList parses the fixed {"data": [...]} envelope used by trending
// board endpoints, keeping the first jsonMaxItems entries.
func parseJSONList(raw []byte) ([]entry, error) {
	var envelope struct {
		Data []struct {
			Title     string `json:"title"`
			URL       string `json:"url"`
			MobileURL string `json:"mobileUrl"`
			Hot       any    `json:"hot"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}

	var entries []entry
	for _, it := range envelope.Data {
		if len(entries) >= jsonMaxItems {
			break
		}
		link := it.URL
		if link == "" {
			link = it.MobileURL
		}
		hot := "N/A"
		if it.Hot != nil {
			hot = fmt.Sprint(it.Hot)
		}
		entries = append(entries, entry{
			title:   it.Title,
			link:    link,
			summary: "heat: " + hot,
		})
	}
	return entries, nil
}

// headlineBody builds the body for headline-only categories from the entry
// itself; no secondary fetch happens for these.
func headlineBody(en entry) string {
	return "Title: " + strings.TrimSpace(en.title) + "\nInfo: " + strings.TrimSpace(en.summary)
}

// pageText fetches a linked page and extracts its main body text. Returns ""
// when the page yields nothing usable; failures are swallowed per entry.
func (e *Extractor) pageText(ctx context.Context, link string) string {
	raw, err := e.fetcher.Fetch(ctx, link)
	if err != nil || len(raw) == 0 {
		slog.Debug("page fetch failed", "link", link, "error", err)
		return ""
	}

	pageURL, _ := url.Parse(link)
	article, err := readability.FromReader(bytes.NewReader(raw), pageURL)
	if err != nil {
		slog.Debug("readability extraction failed", "link", link, "error", err)
		return ""
	}

	text := strings.TrimSpace(article.TextContent)
	if utf8.RuneCountInString(text) < minBodyChars {
		return ""
	}
	return text
}

// Fingerprint computes the dedup digest over final body text.
func Fingerprint(text string) string {
	if text == "" {
		return ""
	}
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
