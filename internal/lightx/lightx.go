// Package lightx drives the LightX hairstyle API (provider A).
package lightx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/providers"
)

// DefaultBaseURL is the LightX external API root
const DefaultBaseURL = "https://api.lightxeditor.com/external/api/v2"

// statusOK is the in-body success marker LightX returns alongside HTTP 200
const statusOK = 2000

// Client is a providers.Provider for LightX
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	poll       providers.PollOptions
}

type Options struct {
	// Name is the provider tag recorded in the audit log
	Name       string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Poll       providers.PollOptions
}

// New returns a new LightX provider
func New(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "providerA"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
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

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

type uploadBody struct {
	UploadImage string `json:"uploadImage"`
	ImageURL    string `json:"imageUrl"`
}

type orderBody struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Output  string `json:"output"`
}

// Upload requests a pre-signed upload URL, PUTs the photo to it and returns
// the public image URL LightX assigned.
func (c *Client) Upload(ctx context.Context, photo []byte, mimeType string) (string, error) {
	if c.apiKey == "" {
		return "", apperr.NewMisconfigured("LIGHTX_API_KEY is not set")
	}
	mimeType = uploadContentType(mimeType)

	var body uploadBody
	err := c.post(ctx, "/uploadImageUrl", map[string]any{
		"uploadType":  "imageUrl",
		"size":        len(photo),
		"contentType": mimeType,
	}, &body)
	if err != nil {
		return "", apperr.NewUploadFailed("LightX uploadImageUrl failed", err)
	}
	if body.UploadImage == "" || body.ImageURL == "" {
		return "", apperr.NewUploadFailed("LightX uploadImageUrl missing uploadImage/imageUrl", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, body.UploadImage, bytes.NewReader(photo))
	if err != nil {
		return "", apperr.NewUploadFailed("failed to create upload request", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.ContentLength = int64(len(photo))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.NewUploadFailed("LightX PUT upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", apperr.NewUploadFailed(fmt.Sprintf("LightX PUT upload returned %d", resp.StatusCode), fmt.Errorf("%s", text))
	}

	return body.ImageURL, nil
}

// uploadContentType maps a photo MIME type onto the two upload content types
// LightX accepts. JPEG stays JPEG and everything else is declared as PNG.
func uploadContentType(mimeType string) string {
	if mimeType == "image/jpeg" {
		return mimeType
	}
	return "image/png"
}

// SubmitJob starts a hairstyle job for imageURL
func (c *Client) SubmitJob(ctx context.Context, imageURL, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", apperr.NewMisconfigured("LIGHTX_API_KEY is not set")
	}

	var body orderBody
	err := c.post(ctx, "/hairstyle", map[string]string{
		"imageUrl":   imageURL,
		"textPrompt": prompt,
	}, &body)
	if err != nil {
		return "", apperr.NewSubmitFailed("LightX hairstyle failed", err)
	}
	if body.OrderID == "" {
		return "", apperr.NewSubmitFailed("LightX hairstyle missing orderId", nil)
	}
	return body.OrderID, nil
}

// PollJob checks order-status until the output is ready
func (c *Client) PollJob(ctx context.Context, orderID string) (string, error) {
	if c.apiKey == "" {
		return "", apperr.NewMisconfigured("LIGHTX_API_KEY is not set")
	}

	return providers.Poll(ctx, c.name, c.poll, func(ctx context.Context) (providers.JobState, error) {
		var body orderBody
		if err := c.post(ctx, "/order-status", map[string]string{"orderId": orderID}, &body); err != nil {
			return providers.JobState{}, err
		}
		return providers.JobState{Status: body.Status, Output: body.Output}, nil
	})
}

// post sends a JSON request and decodes the envelope body into out.
// Anything but HTTP 200 with statusCode 2000 is an error.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, string(text))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	if env.StatusCode != statusOK {
		return fmt.Errorf("unexpected statusCode %d: %s", env.StatusCode, env.Message)
	}
	if len(env.Body) == 0 || string(env.Body) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
