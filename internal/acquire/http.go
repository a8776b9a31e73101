package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxRedirects = 5

// HTTPFetcher downloads a media file referenced by a direct http(s) link.
type HTTPFetcher struct {
	client    *http.Client
	validator Validator
	maxBytes  int64
	logger    *zap.Logger
}

// NewHTTPFetcher builds a fetcher that refuses payloads above maxBytes.
// Every redirect hop is validated like the original reference.
func NewHTTPFetcher(maxBytes int64, validator Validator, logger *zap.Logger) *HTTPFetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	f := &HTTPFetcher{
		validator: validator,
		maxBytes:  maxBytes,
		logger:    logger,
	}
	f.client = &http.Client{
		Timeout: 5 * time.Minute,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			_, err := f.validator.Validate(req.Context(), req.URL.String())
			return err
		},
	}
	return f
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, reference string, started StartFunc) (*Track, error) {
	u, err := f.validator.Validate(ctx, reference)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	req.Header.Set("Accept", "audio/*, application/ogg, video/*;q=0.5, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrInvalidReference) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrFetchFailed, resp.Status)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit of %d", ErrFetchFailed, resp.ContentLength, f.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/") {
		return nil, fmt.Errorf("%w: reference points at %s, not audio", ErrFetchFailed, contentType)
	}

	title := titleFor(resp, u)
	started.notify(title)

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	track := &Track{
		Title:       title,
		ContentType: contentType,
		Data:        data,
	}
	f.logger.Info("media fetched",
		zap.String("title", track.Title),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(data)),
	)
	return track, nil
}

// readLimited reads r fully, failing once more than limit bytes arrive.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: payload exceeds limit of %d bytes", ErrFetchFailed, limit)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrFetchFailed)
	}
	return data, nil
}

func titleFor(resp *http.Response, u *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	if base := path.Base(u.Path); base != "." && base != "/" {
		if unescaped, err := url.PathUnescape(base); err == nil {
			return unescaped
		}
		return base
	}
	return u.Hostname()
}
