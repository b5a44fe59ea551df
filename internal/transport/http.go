// Package transport opens HTTP audio streams with byte-offset resume and
// ICY metadata support.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/audiostream-go/internal/errors"
	"github.com/tphakala/audiostream-go/internal/logging"
)

const (
	defaultTimeout             = 30 * time.Second
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 30 * time.Second
)

// Config holds configuration for creating a transport client.
type Config struct {
	// UserAgent is sent with every stream request
	UserAgent string

	// ResponseHeaderTimeout bounds the wait for the server's headers.
	// Note this must not bound the body: live streams run indefinitely.
	ResponseHeaderTimeout time.Duration
}

// Client opens audio streams over HTTP. It wraps a pooled http.Transport;
// request bodies stay open for the lifetime of the playback session and are
// cancelled through the request context.
type Client struct {
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

// New creates a transport client with pooled connections.
func New(cfg Config) *Client {
	headerTimeout := cfg.ResponseHeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = defaultTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &Client{
		// no overall client timeout: it would cut off long-running stream bodies
		http:      &http.Client{Transport: transport},
		userAgent: cfg.UserAgent,
		logger:    logging.ForService("transport"),
	}
}

// Stream is one open audio stream.
type Stream struct {
	// Body delivers the audio bytes. When the server interleaves ICY
	// metadata it is already stripped from this reader.
	Body io.ReadCloser

	// ContentType as reported by the server, possibly empty
	ContentType string

	// ContentLength in bytes, or -1 when unknown (continuous streams)
	ContentLength int64

	// AcceptRanges reports whether the server honors byte range requests
	AcceptRanges bool

	// Offset is the byte position the body actually starts at. Zero when
	// the server ignored a requested range.
	Offset uint64

	// Metadata delivers ICY title updates while the stream plays
	Metadata <-chan map[string]string
}

// Open starts retrieving the stream, optionally resuming from a byte offset
// through an HTTP range request.
func (c *Client) Open(ctx context.Context, url string, offset uint64) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("transport").
			Category(errors.CategoryStreamOpen).
			Context("url", url).
			Build()
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	// ask shoutcast-style servers to interleave metadata
	req.Header.Set("Icy-MetaData", "1")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("transport").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_ = resp.Body.Close()
		return nil, errors.Newf("unexpected status %s", resp.Status).
			Component("transport").
			Category(errors.CategoryStreamOpen).
			Context("url", url).
			Context("status", resp.StatusCode).
			Build()
	}

	stream := &Stream{
		Body:          resp.Body,
		ContentType:   parseMediaType(resp.Header.Get("Content-Type")),
		ContentLength: resp.ContentLength,
		AcceptRanges:  acceptsRanges(resp),
	}
	if resp.StatusCode == http.StatusPartialContent {
		stream.Offset = offset
		// ContentLength of a range response covers the remainder only
		if total := contentRangeTotal(resp.Header.Get("Content-Range")); total > 0 {
			stream.ContentLength = total
		}
	}

	metadata := make(chan map[string]string, 4)
	stream.Metadata = metadata

	if metaint := icyMetaInt(resp.Header); metaint > 0 {
		c.logger.Debug("icy metadata enabled", "url", url, "metaint", metaint)
		stream.Body = newIcyReader(resp.Body, metaint, metadata)
	} else {
		close(metadata)
	}

	return stream, nil
}

func acceptsRanges(resp *http.Response) bool {
	if resp.StatusCode == http.StatusPartialContent {
		return true
	}
	return strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
}

// parseMediaType strips parameters like "; charset=" from a content type.
func parseMediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// contentRangeTotal extracts the total length from a "bytes start-end/total"
// header, returning -1 when the total is unknown.
func contentRangeTotal(header string) int64 {
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return -1
	}
	total, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return total
}

// icyMetaInt returns the ICY metadata interval, or 0 when absent. Shoutcast
// servers are inconsistent about header casing.
func icyMetaInt(h http.Header) int {
	for _, key := range []string{"Icy-Metaint", "icy-metaint", "Icy-MetaInt"} {
		if v := h.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}
