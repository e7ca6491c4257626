package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/config"
	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/logger"
)

const (
	healthPath    = "/api/health"
	analyticsPath = "/api/analytics"
	historyPath   = "/api/history"
	saveRecord    = "/api/save-record"

	// fetchTimeout bounds analytics, history and save calls
	fetchTimeout = 10 * time.Second

	uploadField = "video"
)

// Client talks to the analysis backend over HTTP.
type Client struct {
	baseURL       string
	uploadPath    string
	healthTimeout time.Duration
	uploadTimeout time.Duration
	http          *http.Client
	log           logger.Logger
}

// New creates a Client from the backend section of the configuration.
func New(cfg config.BackendConfig, log logger.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimSuffix(cfg.URL, "/"),
		uploadPath:    cfg.UploadPath,
		healthTimeout: cfg.HealthTimeout,
		uploadTimeout: cfg.UploadTimeout,
		http:          &http.Client{},
		log:           log.With("backend"),
	}
}

// Healthy reports whether the backend answered the health check with a
// 2xx status within the health timeout. It never returns an error.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		c.log.Debug().Err(err).Msg("Failed to build health request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("url", c.baseURL).Msg("Backend health check failed")
		return false
	}
	defer drain(resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.log.Debug().Int("status", resp.StatusCode).Bool("reachable", ok).Msg("Backend health check")
	return ok
}

// Upload sends the video as multipart field "video".
func (c *Client) Upload(ctx context.Context, name string, video io.Reader) (UploadResult, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	// The body is streamed so a large video is never held in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	written := make(chan error, 1)
	go func() {
		err := writeVideoPart(mw, name, video)
		pw.CloseWithError(err)
		written <- err
	}()
	// Closing the reader unblocks the writer when the request ends early.
	finish := func() error {
		pr.Close()
		return <-written
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.uploadPath, pr)
	if err != nil {
		_ = finish()
		return UploadResult{}, errFactory.Wrap(errors.ErrInternal, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Info().Str("file", name).Msg("Uploading video")

	resp, err := c.http.Do(req)
	writeErr := finish()
	if err != nil {
		if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
			return UploadResult{}, errFactory.Wrap(errors.ErrInvalidArgument, writeErr)
		}
		return UploadResult{}, transportError(ctx, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return UploadResult{}, rejection(resp, errors.ErrUploadRejected)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, errFactory.WithMessage(errors.ErrUploadRejected, "invalid upload response").WithData(err.Error())
	}
	if result.Identifier() == "" {
		return UploadResult{}, errFactory.WithMessage(errors.ErrUploadRejected, "upload response carries no session identifier")
	}

	c.log.Info().Str("session_id", result.Identifier()).Msg("Video uploaded")
	return result, nil
}

// FetchAggregateStats returns the backend's aggregate analytics.
func (c *Client) FetchAggregateStats(ctx context.Context) (analysis.AggregateStats, error) {
	var stats analysis.AggregateStats
	if err := c.getJSON(ctx, analyticsPath, &stats); err != nil {
		return analysis.AggregateStats{}, err
	}
	return stats, nil
}

// FetchHistory returns persisted sessions, most recent first.
func (c *Client) FetchHistory(ctx context.Context) ([]analysis.HistoryRecord, error) {
	var resp historyResponse
	if err := c.getJSON(ctx, historyPath, &resp); err != nil {
		return nil, err
	}

	records := make([]analysis.HistoryRecord, 0, len(resp.Records))
	for _, r := range resp.Records {
		records = append(records, r.toRecord())
	}
	analysis.SortHistory(records)
	return records, nil
}

// SaveRecord persists one completed session.
func (c *Client) SaveRecord(ctx context.Context, record Record) error {
	errFactory := errors.New()

	payload, err := json.Marshal(record)
	if err != nil {
		return errFactory.Wrap(errors.ErrPersistFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+saveRecord, bytes.NewReader(payload))
	if err != nil {
		return errFactory.Wrap(errors.ErrPersistFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errFactory.Wrap(errors.ErrPersistFailed, transportError(ctx, err))
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rejection(resp, errors.ErrPersistFailed)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errFactory.Wrap(errors.ErrFetchFailed, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errFactory.Wrap(errors.ErrFetchFailed, transportError(ctx, err))
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rejection(resp, errors.ErrFetchFailed).WithData(path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errFactory.WithData(errors.ErrFetchFailed, struct {
			Path  string
			Error string
		}{
			Path:  path,
			Error: err.Error(),
		})
	}
	return nil
}

// writeVideoPart copies the video into a single form file part and closes
// the multipart writer.
func writeVideoPart(mw *multipart.Writer, name string, video io.Reader) error {
	part, err := mw.CreateFormFile(uploadField, filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, video); err != nil {
		return err
	}
	return mw.Close()
}

// rejection builds the error for a non-2xx response, preferring the
// server's own error message.
func rejection(resp *http.Response, code errors.ErrorCode) errors.Error {
	var body struct {
		Error string `json:"error"`
	}
	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return errors.New().WithMessage(code, msg)
}

func transportError(ctx context.Context, err error) error {
	errFactory := errors.New()

	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errFactory.Wrap(errors.ErrTimeout, err)
	}
	return errFactory.Wrap(errors.ErrBackendUnreachable, err)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}
