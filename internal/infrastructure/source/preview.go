package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/reader"
)

const defaultBaseURL = "https://t.me"

// PreviewReader reads public channel messages from the t.me/s preview pages.
// Message identity comes from the data-post attribute ("channel/123").
type PreviewReader struct {
	client  *http.Client
	baseURL string
}

var _ reader.Reader = (*PreviewReader)(nil)

// NewPreviewReader wires an HTTP client; a nil client gets a bounded default.
func NewPreviewReader(client *http.Client) *PreviewReader {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &PreviewReader{client: client, baseURL: defaultBaseURL}
}

// Name identifies the strategy inside the registry.
func (p *PreviewReader) Name() string {
	return "preview"
}

// Read fetches one preview page and returns messages strictly newer than
// req.AfterID, oldest first. AfterID zero returns the latest page as-is.
func (p *PreviewReader) Read(ctx context.Context, req reader.Request) ([]domain.OriginMessage, error) {
	if req.Channel == "" {
		return nil, fmt.Errorf("source %s: channel is empty", req.SourceID)
	}

	pageURL, err := p.buildPageURL(req.Channel, req.AfterID)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceID, err)
	}

	doc, err := p.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceID, err)
	}

	messages := extractMessages(doc, req.SourceID, req.AfterID)
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].MessageID < messages[j].MessageID
	})

	if req.Limit > 0 && len(messages) > req.Limit {
		messages = messages[:req.Limit]
	}

	return messages, nil
}

func (p *PreviewReader) buildPageURL(channel string, afterID int64) (string, error) {
	parsed, err := url.Parse(fmt.Sprintf("%s/s/%s", strings.TrimSuffix(p.baseURL, "/"), channel))
	if err != nil {
		return "", fmt.Errorf("invalid channel url for %s: %w", channel, err)
	}

	if afterID > 0 {
		query := parsed.Query()
		query.Set("after", strconv.FormatInt(afterID, 10))
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (p *PreviewReader) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsDesk/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request preview page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func extractMessages(doc *goquery.Document, sourceID string, afterID int64) []domain.OriginMessage {
	var collected []domain.OriginMessage

	doc.Find(".tgme_widget_message").Each(func(i int, sel *goquery.Selection) {
		msg, err := parseMessage(sel, sourceID)
		if err != nil {
			return
		}
		if msg.MessageID <= afterID {
			return
		}
		collected = append(collected, msg)
	})

	return collected
}

func parseMessage(sel *goquery.Selection, sourceID string) (domain.OriginMessage, error) {
	post, ok := sel.Attr("data-post")
	if !ok {
		return domain.OriginMessage{}, fmt.Errorf("message without data-post")
	}

	idx := strings.LastIndex(post, "/")
	if idx < 0 {
		return domain.OriginMessage{}, fmt.Errorf("malformed data-post %q", post)
	}

	id, err := strconv.ParseInt(post[idx+1:], 10, 64)
	if err != nil {
		return domain.OriginMessage{}, fmt.Errorf("malformed message id in %q: %w", post, err)
	}

	text := strings.TrimSpace(sel.Find(".tgme_widget_message_text").First().Text())

	postedAt := time.Now().UTC()
	if datetime, ok := sel.Find("time[datetime]").First().Attr("datetime"); ok {
		if parsed, err := time.Parse(time.RFC3339, datetime); err == nil {
			postedAt = parsed.UTC()
		}
	}

	return domain.OriginMessage{
		SourceID:  sourceID,
		MessageID: id,
		PostedAt:  postedAt,
		Text:      text,
	}, nil
}
