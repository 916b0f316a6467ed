// Package feed downloads and parses the published AWS address range document.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/ipranges/internal/domain"
)

// DefaultURL is the well-known location of the AWS address range feed.
const DefaultURL = "https://ip-ranges.amazonaws.com/ip-ranges.json"

// createDateLayout is the timestamp format used by the feed's createDate field.
const createDateLayout = "2006-01-02-15-04-05"

// maxBodySize caps the downloaded document. The real feed is a few MB.
const maxBodySize = 64 << 20

// ErrMalformedFeed is returned when the document cannot be used at all.
var ErrMalformedFeed = errors.New("malformed feed")

// StatusError is returned when the feed responds with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Config configures the feed client
type Config struct {
	// URL of the feed document. Defaults to DefaultURL.
	URL string

	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration

	// Transport overrides the HTTP transport. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client fetches the feed over HTTP
type Client struct {
	url        string
	httpClient *http.Client
	validate   *validator.Validate
	logger     *slog.Logger
}

// document mirrors the top level of ip-ranges.json. Prefixes is a pointer so a
// missing field can be told apart from an empty array.
type document struct {
	SyncToken  string           `json:"syncToken"`
	CreateDate string           `json:"createDate"`
	Prefixes   *[]domain.Prefix `json:"prefixes"`
}

// NewClient creates a feed client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}
}

// URL returns the address the client fetches from
func (c *Client) URL() string {
	return c.url
}

// Fetch performs a single GET of the feed and parses it.
// Records that fail validation are dropped and counted in Feed.Skipped.
func (c *Client) Fetch(ctx context.Context) (*domain.Feed, error) {
	const op = "feed.fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to build feed request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, op, "The address range feed could not be reached.")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, domain.WrapError(&StatusError{StatusCode: resp.StatusCode}, domain.EUNAVAILABLE, op,
			fmt.Sprintf("The address range feed responded with status %d.", resp.StatusCode))
	}

	return c.decode(io.LimitReader(resp.Body, maxBodySize))
}

func (c *Client) decode(r io.Reader) (*domain.Feed, error) {
	const op = "feed.decode"

	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, domain.WrapError(fmt.Errorf("%w: %v", ErrMalformedFeed, err), domain.EUNAVAILABLE, op,
			"The address range feed returned an unreadable document.")
	}
	if doc.Prefixes == nil {
		return nil, domain.WrapError(fmt.Errorf("%w: missing prefixes", ErrMalformedFeed), domain.EUNAVAILABLE, op,
			"The address range feed did not contain any prefixes.")
	}

	feed := &domain.Feed{
		SyncToken: doc.SyncToken,
		Prefixes:  make([]domain.Prefix, 0, len(*doc.Prefixes)),
	}

	if doc.CreateDate != "" {
		created, err := time.Parse(createDateLayout, doc.CreateDate)
		if err != nil {
			c.logger.Debug("unparseable feed createDate", "value", doc.CreateDate, "error", err)
		} else {
			feed.CreateDate = created
		}
	}

	for i, p := range *doc.Prefixes {
		if err := c.validate.Struct(p); err != nil {
			feed.Skipped++
			c.logger.Debug("dropping malformed prefix", "index", i, "ip_prefix", p.IPPrefix, "error", err)
			continue
		}
		feed.Prefixes = append(feed.Prefixes, p)
	}

	if feed.Skipped > 0 {
		c.logger.Warn("feed contained malformed prefixes", "skipped", feed.Skipped, "kept", len(feed.Prefixes))
	}

	if len(feed.Prefixes) == 0 && feed.Skipped > 0 {
		return nil, domain.WrapError(fmt.Errorf("%w: all %d prefixes invalid", ErrMalformedFeed, feed.Skipped),
			domain.EUNAVAILABLE, op, "The address range feed contained no valid prefixes.")
	}

	return feed, nil
}
