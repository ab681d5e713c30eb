package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vfaronov/httpheader"

	"github.com/ligustah/labexport/internal/config"
	"github.com/ligustah/labexport/internal/logger"
)

// PageSize is the number of projects requested by ListProjects. Only the
// first page is fetched.
const PageSize = 100

// Common errors.
var (
	ErrRateLimited      = errors.New("http: rate limited")
	ErrTransient        = errors.New("http: transient failure")
	ErrUnauthorized     = errors.New("http: unauthorized")
	ErrForbidden        = errors.New("http: access forbidden")
	ErrNotFound         = errors.New("http: resource not found")
	ErrUnexpectedStatus = errors.New("http: unexpected status")
)

// Class groups transport failures by how callers should react to them.
type Class int

const (
	// ClassFatal covers every failure not listed below.
	ClassFatal Class = iota
	// ClassRateLimited is an HTTP 429 response.
	ClassRateLimited
	// ClassTransient is a network or body read failure.
	ClassTransient
	// ClassAuth is a 401 or 403 response.
	ClassAuth
	// ClassNotFound is a 404 response.
	ClassNotFound
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate-limited"
	case ClassTransient:
		return "transient"
	case ClassAuth:
		return "auth"
	case ClassNotFound:
		return "not-found"
	default:
		return "fatal"
	}
}

// Retryable reports whether a failure of this class may succeed on retry.
func (c Class) Retryable() bool {
	return c == ClassRateLimited || c == ClassTransient
}

// Classify maps an error returned by Client to its Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassFatal
	case errors.Is(err, context.Canceled):
		return ClassFatal
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrTransient):
		return ClassTransient
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return ClassAuth
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	default:
		return ClassFatal
	}
}

// Project is a project as returned by the projects API.
type Project struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Namespace struct {
		Name string `json:"name"`
	} `json:"namespace"`
	LastActivityAt string `json:"last_activity_at"`
}

// ExportStatus is the export_status reported for a project export.
type ExportStatus string

const (
	// StatusUnknown is returned when the status could not be read.
	StatusUnknown      ExportStatus = ""
	StatusNone         ExportStatus = "none"
	StatusQueued       ExportStatus = "queued"
	StatusStarted      ExportStatus = "started"
	StatusRegenerating ExportStatus = "regeneration_in_progress"
	StatusFinished     ExportStatus = "finished"
	StatusFailed       ExportStatus = "failed"
)

// Download is an open export download. The caller must close Body.
type Download struct {
	Body io.ReadCloser
	// Size is the declared Content-Length, or 0 when unknown.
	Size int64
	// Filename is the name suggested by Content-Disposition, if any.
	Filename string
}

// Client talks to the GitLab projects and export APIs.
type Client struct {
	api    *resty.Client
	stream *resty.Client
	log    *logger.Logger
}

// NewClient creates a client for the host in cfg. API calls are bounded by
// cfg.Timeout; archive downloads are not, since their size is unbounded.
func NewClient(cfg config.GitLabConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}

	api := newResty(cfg, log, &http.Client{Timeout: cfg.Timeout})
	stream := newResty(cfg, log, &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true, // We want the archive bytes as served
		},
	})

	return &Client{api: api, stream: stream, log: log}
}

func newResty(cfg config.GitLabConfig, log *logger.Logger, hc *http.Client) *resty.Client {
	return resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetHeader("PRIVATE-TOKEN", cfg.Token).
		SetHeader("Accept", "application/json").
		SetLogger(log)
}

// ListProjects returns the first page of projects visible to the token.
// Hosts with more than PageSize projects yield an incomplete list.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"simple":   "true",
			"per_page": strconv.Itoa(PageSize),
		}).
		Get("/api/v4/projects")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", transient(err))
	}
	if err := expectStatus(resp.StatusCode(), http.StatusOK, resp.Body()); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	var projects []Project
	if err := json.Unmarshal(resp.Body(), &projects); err != nil {
		return nil, fmt.Errorf("decode projects: %w", err)
	}
	return projects, nil
}

// TriggerExport schedules an export of the project. Only 202 Accepted counts
// as success.
func (c *Client) TriggerExport(ctx context.Context, projectID int64) error {
	resp, err := c.api.R().
		SetContext(ctx).
		Post(exportPath(projectID))
	if err != nil {
		return fmt.Errorf("trigger export: %w", transient(err))
	}
	if err := expectStatus(resp.StatusCode(), http.StatusAccepted, resp.Body()); err != nil {
		return fmt.Errorf("trigger export: %w", err)
	}
	return nil
}

// ExportStatus reads the current export status of the project. Any failure
// yields StatusUnknown together with the error.
func (c *Client) ExportStatus(ctx context.Context, projectID int64) (ExportStatus, error) {
	resp, err := c.api.R().
		SetContext(ctx).
		Get(exportPath(projectID))
	if err != nil {
		return StatusUnknown, fmt.Errorf("export status: %w", transient(err))
	}
	if err := expectStatus(resp.StatusCode(), http.StatusOK, resp.Body()); err != nil {
		return StatusUnknown, fmt.Errorf("export status: %w", err)
	}

	var body struct {
		ExportStatus ExportStatus `json:"export_status"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return StatusUnknown, fmt.Errorf("decode export status: %w", err)
	}
	return body.ExportStatus, nil
}

// DownloadExport opens the finished export archive for streaming.
func (c *Client) DownloadExport(ctx context.Context, projectID int64) (*Download, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader("Accept", "application/octet-stream").
		SetDoNotParseResponse(true).
		Get(exportPath(projectID) + "/download")
	if err != nil {
		return nil, fmt.Errorf("download export: %w", transient(err))
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		body.Close()

		if resp.StatusCode() == http.StatusTooManyRequests {
			if at := httpheader.RetryAfter(resp.Header()); !at.IsZero() {
				c.log.Debug().Time("retry_after", at).Int64("project_id", projectID).Msg("server asked to back off")
			}
		}
		return nil, fmt.Errorf("download export: %w", expectStatus(resp.StatusCode(), http.StatusOK, snippet))
	}

	d := &Download{Body: body}
	if resp.RawResponse != nil && resp.RawResponse.ContentLength > 0 {
		d.Size = resp.RawResponse.ContentLength
	}
	if _, name, _ := httpheader.ContentDisposition(resp.Header()); name != "" {
		d.Filename = name
	}
	return d, nil
}

func exportPath(projectID int64) string {
	return "/api/v4/projects/" + strconv.FormatInt(projectID, 10) + "/export"
}

// transient marks a request-level failure (no response) as retryable.
func transient(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// expectStatus returns nil if code equals want, and a classified error
// otherwise.
func expectStatus(code, want int, body []byte) error {
	if code == want {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch code {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	default:
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, code, msg)
	}
}
