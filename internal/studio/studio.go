// Package studio drives the Studio hairstyle API (provider B).
package studio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/providers"
)

// Client is a providers.Provider for Studio
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	poll       providers.PollOptions
}

type Options struct {
	Name       string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Poll       providers.PollOptions
}

// New returns a new Studio provider
func New(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "providerB"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Poll.Attempts == 0 {
		opts.Poll = providers.DefaultPollOptions()
	}
	return &Client{
		name:       opts.Name,
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		poll:       opts.Poll,
	}
}

func (c *Client) Name() string {
	return c.name
}

type response struct {
	Code    *int   `json:"code"` // nil when the envelope carries no code
	Message string `json:"message"`
	Data    struct {
		URL    string `json:"url"`
		JobID  string `json:"jobId"`
		Status string `json:"status"`
		Output string `json:"output"`
	} `json:"data"`
}

func (c *Client) configured() error {
	if c.apiKey == "" {
		return apperr.NewMisconfigured("STUDIO_API_KEY is not set")
	}
	if c.baseURL == "" {
		return apperr.NewMisconfigured("STUDIO_BASE_URL is not set")
	}
	return nil
}

// Upload posts the photo as a multipart form and returns its hosted URL
func (c *Client) Upload(ctx context.Context, photo []byte, mimeType string) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+uploadName(mimeType)+`"`)
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", apperr.NewUploadFailed("failed to build upload form", err)
	}
	if _, err := part.Write(photo); err != nil {
		return "", apperr.NewUploadFailed("failed to build upload form", err)
	}
	if err := w.Close(); err != nil {
		return "", apperr.NewUploadFailed("failed to build upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/uploads", &buf)
	if err != nil {
		return "", apperr.NewUploadFailed("failed to create upload request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := c.do(req)
	if err != nil {
		return "", apperr.NewUploadFailed("Studio upload failed", err)
	}
	if res.Data.URL == "" {
		return "", apperr.NewUploadFailed("Studio upload missing url", nil)
	}
	return res.Data.URL, nil
}

func uploadName(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "photo.png"
	case "image/webp":
		return "photo.webp"
	default:
		return "photo.jpg"
	}
}

// SubmitJob starts a hairstyle job for imageURL
func (c *Client) SubmitJob(ctx context.Context, imageURL, prompt string) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}

	requestBody, err := json.Marshal(map[string]string{
		"imageUrl": imageURL,
		"prompt":   prompt,
	})
	if err != nil {
		return "", apperr.NewSubmitFailed("failed to marshal request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/hairstyle/jobs", bytes.NewReader(requestBody))
	if err != nil {
		return "", apperr.NewSubmitFailed("failed to create submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.do(req)
	if err != nil {
		return "", apperr.NewSubmitFailed("Studio job submit failed", err)
	}
	if res.Data.JobID == "" {
		return "", apperr.NewSubmitFailed("Studio job submit missing jobId", nil)
	}
	return res.Data.JobID, nil
}

// PollJob checks the job until its output is ready
func (c *Client) PollJob(ctx context.Context, orderID string) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}

	statusURL := c.baseURL + "/v1/hairstyle/jobs/" + url.PathEscape(orderID)
	return providers.Poll(ctx, c.name, c.poll, func(ctx context.Context) (providers.JobState, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return providers.JobState{}, err
		}
		res, err := c.do(req)
		if err != nil {
			return providers.JobState{}, err
		}
		return providers.JobState{Status: res.Data.Status, Output: res.Data.Output}, nil
	})
}

// do authenticates req and decodes the response. Anything but HTTP 200 with
// code 0 is an error.
func (c *Client) do(req *http.Request) (*response, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, string(text))
	}

	var res response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if res.Code == nil {
		return nil, errors.New("response is missing the code field")
	}
	if *res.Code != 0 {
		return nil, fmt.Errorf("unexpected code %d: %s", *res.Code, res.Message)
	}
	return &res, nil
}
