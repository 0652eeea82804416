package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultURL is the Climate Data Store API root.
const DefaultURL = "https://cds.climate.copernicus.eu/api"

const (
	minPollInterval = time.Second
	maxPollInterval = 30 * time.Second
)

// Job states reported by the retrieve API.
const (
	statusAccepted   = "accepted"
	statusRunning    = "running"
	statusSuccessful = "successful"
	statusFailed     = "failed"
	statusRejected   = "rejected"
	statusDismissed  = "dismissed"
	statusDeleted    = "deleted"
)

// Client retrieves datasets from the Climate Data Store. A retrieval submits
// a job, polls it until it finishes and downloads the resulting asset.
type Client struct {
	logger  *slog.Logger
	httpCli *http.Client
	baseURL string
	key     string
	clock   clockwork.Clock
}

// NewClient creates a new CDS client.
func NewClient(logger *slog.Logger, baseURL, key string, clock clockwork.Clock) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("no API key for %s", baseURL)
	}
	return &Client{
		logger:  logger,
		httpCli: &http.Client{Timeout: 10 * time.Minute},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		key:     key,
		clock:   clock,
	}, nil
}

type job struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
}

type results struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Retrieve runs a request against dataset and copies the result to dst. It
// returns the number of bytes written.
func (c *Client) Retrieve(ctx context.Context, dataset string, request map[string]any, dst io.Writer) (int64, error) {
	j, err := c.submit(ctx, dataset, request)
	if err != nil {
		return 0, err
	}
	c.logger.Info("CDS job submitted", "dataset", dataset, "job", j.JobID, "status", j.Status)
	if err := c.wait(ctx, j); err != nil {
		return 0, err
	}
	var res results
	if err := c.getJSON(ctx, c.jobURL(j.JobID)+"/results", &res); err != nil {
		return 0, err
	}
	if res.Asset.Value.Href == "" {
		return 0, fmt.Errorf("job %s: results carry no asset", j.JobID)
	}
	c.logger.Info("Downloading CDS result", "job", j.JobID, "size", res.Asset.Value.Size)
	return c.download(ctx, res.Asset.Value.Href, dst)
}

func (c *Client) submit(ctx context.Context, dataset string, request map[string]any) (job, error) {
	body, err := json.Marshal(map[string]any{"inputs": request})
	if err != nil {
		return job{}, err
	}
	u := fmt.Sprintf("%s/retrieve/v1/processes/%s/execution", c.baseURL, url.PathEscape(dataset))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return job{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var j job
	if err := c.do(req, &j); err != nil {
		return job{}, err
	}
	if j.JobID == "" {
		return job{}, fmt.Errorf("submit %s: no job id in response", dataset)
	}
	return j, nil
}

// wait polls the job with a growing interval until it leaves the queue.
func (c *Client) wait(ctx context.Context, j job) error {
	interval := minPollInterval
	for {
		switch j.Status {
		case statusSuccessful:
			return nil
		case statusFailed, statusRejected, statusDismissed, statusDeleted:
			return c.jobError(ctx, j)
		case statusAccepted, statusRunning:
		default:
			return fmt.Errorf("job %s: unknown status %q", j.JobID, j.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(interval):
		}
		interval = min(interval*3/2, maxPollInterval)
		status := j.Status
		if err := c.getJSON(ctx, c.jobURL(j.JobID), &j); err != nil {
			return err
		}
		if j.Status != status {
			c.logger.Info("CDS job status", "job", j.JobID, "status", j.Status)
		}
	}
}

// jobError reads the failure detail from the job results.
func (c *Client) jobError(ctx context.Context, j job) error {
	jerr := &JobError{JobID: j.JobID, Status: j.Status}
	err := c.getJSON(ctx, c.jobURL(j.JobID)+"/results", &results{})
	var apiErr *APIError
	if errorsAs(err, &apiErr) {
		jerr.Detail = apiErr.Message
	}
	return jerr
}

func (c *Client) jobURL(id string) string {
	return fmt.Sprintf("%s/retrieve/v1/jobs/%s", c.baseURL, url.PathEscape(id))
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

func (c *Client) do(req *http.Request, v any) error {
	req.Header.Set("PRIVATE-TOKEN", c.key)
	req.Header.Set("Accept", "application/json")
	res, err := c.httpCli.Do(req)
	if err != nil {
		return &NetworkError{Operation: req.Method + " " + req.URL.Path, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return newAPIError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, href string, dst io.Writer) (int64, error) {
	u, err := url.Parse(href)
	if err != nil {
		return 0, err
	}
	if !u.IsAbs() {
		base, err := url.Parse(c.baseURL)
		if err != nil {
			return 0, err
		}
		u = base.ResolveReference(u)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpCli.Do(req)
	if err != nil {
		return 0, &NetworkError{Operation: "download", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, newAPIError(res)
	}
	return io.Copy(dst, res.Body)
}

func newAPIError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var p problem
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &p) == nil && (p.Title != "" || p.Detail != "") {
		msg = strings.TrimSpace(p.Title + ": " + p.Detail)
	}
	return &APIError{StatusCode: res.StatusCode, Message: msg}
}
