package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"qcflow/internal/reconcile"
	"qcflow/internal/services"
)

// ErrAPIUnavailable reports that no daemon answered.
var ErrAPIUnavailable = errors.New("qcflow API unavailable")

// RemoteError is a classified error returned by the daemon. errors.Is
// matches the services marker named by its code.
type RemoteError struct {
	StatusCode int
	Code       services.Kind
	Message    string
	Hint       string
	Retryable  bool
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("qcflow API returned status %d", e.StatusCode)
}

// Unwrap exposes the taxonomy marker.
func (e *RemoteError) Unwrap() error {
	return services.MarkerFor(e.Code)
}

// UploadFile names a local document to submit under a role.
type UploadFile struct {
	Role reconcile.Role
	Path string
}

// Client talks to the daemon HTTP API.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// NewClient builds a client for bind, which may be host:port or a URL.
func NewClient(bind, token string, timeout time.Duration) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: timeout},
		token: strings.TrimSpace(token),
	}, nil
}

// Submit uploads documents and returns the created job id.
func (c *Client) Submit(ctx context.Context, files []UploadFile) (SubmitResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		if err := addFilePart(writer, f); err != nil {
			return SubmitResponse{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return SubmitResponse{}, err
	}

	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/uploads", nil, writer.FormDataContentType(), &body, &out)
	return out, err
}

func addFilePart(writer *multipart.Writer, f UploadFile) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer file.Close()
	part, err := writer.CreateFormFile(string(f.Role), filepath.Base(f.Path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

// Status returns the poll view of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, jobPath(jobID, "status"), nil, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Finalize triggers finalize. An in-progress finalize is reported through
// the response, not as an error.
func (c *Client) Finalize(ctx context.Context, jobID string) (FinalizeResponse, error) {
	var out FinalizeResponse
	err := c.do(ctx, http.MethodPost, jobPath(jobID, "finalize"), nil, "", nil, &out)
	return out, err
}

// Results returns the merged verdicts of a finalized job.
func (c *Client) Results(ctx context.Context, jobID string) (ResultsResponse, error) {
	var out ResultsResponse
	err := c.do(ctx, http.MethodGet, jobPath(jobID, "results"), nil, "", nil, &out)
	return out, err
}

// Summary returns the summary lane inventory of a job.
func (c *Client) Summary(ctx context.Context, jobID string) (*SummaryResponse, error) {
	var out SummaryResponse
	if err := c.do(ctx, http.MethodGet, jobPath(jobID, "summary"), nil, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Jobs lists jobs, optionally filtered by state.
func (c *Client) Jobs(ctx context.Context, states []string, limit int) ([]JobItem, error) {
	values := url.Values{}
	for _, s := range states {
		if s = strings.TrimSpace(s); s != "" {
			values.Add("state", s)
		}
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var out JobListResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs", values, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Health returns daemon readiness.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, "", nil, &out)
	return out, err
}

func jobPath(jobID, action string) string {
	return "/api/jobs/" + url.PathEscape(strings.TrimSpace(jobID)) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	remote := &RemoteError{StatusCode: resp.StatusCode, Code: services.KindInternal}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload ErrorResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		remote.Message = payload.Error
		remote.Hint = payload.Hint
		remote.Retryable = payload.Retryable
		if payload.Code != "" {
			remote.Code = services.Kind(payload.Code)
		}
		return remote
	}
	remote.Message = strings.TrimSpace(string(data))
	if resp.StatusCode == http.StatusUnauthorized {
		remote.Code = services.KindInvalidRequest
		remote.Message = "unauthorized: check paths.api_token"
	}
	return remote
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
