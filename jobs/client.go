package jobs

import (
	"bytes"
	"canvas-studio/config"
	"canvas-studio/core"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Modes builds the collaborators for each API mode.
type Modes struct {
	RemoteAPIURL   string
	RemoteUploader core.Uploader
	// LocalUploader returns the uploader for the configured local upload URL.
	LocalUploader func(uploadURL string) core.Uploader
	Client        *http.Client
}

// Endpoints selects the local worker API or the hosted proxy from settings.
func (m Modes) Endpoints(s config.Settings) (core.Uploader, core.Executor) {
	if s.UseLocalAPI {
		var up core.Uploader
		if m.LocalUploader != nil {
			up = m.LocalUploader(s.LocalUploadURL)
		}
		return up, &LocalExecutor{BaseURL: s.LocalAPIURL, Client: m.Client}
	}
	base := m.RemoteAPIURL
	if base == "" {
		base = config.DefaultRemoteAPIURL
	}
	return m.RemoteUploader, &RemoteExecutor{BaseURL: base, Token: s.Token, Client: m.Client}
}

// HTTPUploader posts blobs as multipart "file" fields and reads {"url": ...}.
type HTTPUploader struct {
	URL    string
	Client *http.Client
	// Fields are sent alongside the file.
	Fields map[string]string
}

func (u *HTTPUploader) Upload(ctx context.Context, blob []byte, filename string) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(blob); err != nil {
		return "", err
	}
	for k, v := range u.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, body)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client(u.Client).Do(req)
	if err != nil {
		return "", &UploadError{Message: err.Error()}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UploadError{StatusCode: resp.StatusCode, Message: serverMessage(data)}
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if result.URL == "" {
		return "", errors.New("upload response has no url")
	}
	return result.URL, nil
}

// LocalExecutor talks to a self-hosted worker API. Submissions go to
// <BaseURL>/run and status checks to <BaseURL>/status/<id>.
type LocalExecutor struct {
	BaseURL string
	Client  *http.Client
}

func (e *LocalExecutor) Submit(ctx context.Context, service core.AIService, payload map[string]any) (*core.ExecutionResponse, error) {
	body := map[string]any{
		"serviceId": service.ID,
		"workerId":  service.WorkerID,
		"payload":   payload,
	}
	return postJSON(ctx, client(e.Client), strings.TrimRight(e.BaseURL, "/")+"/run", nil, body)
}

func (e *LocalExecutor) Status(ctx context.Context, externalID string) (*core.ExecutionResponse, error) {
	endpoint := strings.TrimRight(e.BaseURL, "/") + "/status/" + url.PathEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	return doJSON(client(e.Client), req)
}

// RemoteExecutor submits through the hosted proxy, which blocks until the
// job is terminal. The token is part of the path.
type RemoteExecutor struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (e *RemoteExecutor) Submit(ctx context.Context, service core.AIService, payload map[string]any) (*core.ExecutionResponse, error) {
	endpoint := strings.TrimRight(e.BaseURL, "/") + "/set/" + url.PathEscape(e.Token)
	headers := map[string]string{
		"workerId": service.WorkerID,
		"cost":     service.Cost,
		"delay":    service.Delay,
	}
	return postJSON(ctx, client(e.Client), endpoint, headers, payload)
}

func (e *RemoteExecutor) Status(context.Context, string) (*core.ExecutionResponse, error) {
	return nil, errors.New("status checks are not available through the remote proxy")
}

// HTTPFetcher downloads result bytes.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	resp, err := client(f.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", resultURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", resultURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func postJSON(ctx context.Context, c *http.Client, endpoint string, headers map[string]string, body any) (*core.ExecutionResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(c, req)
}

func doJSON(c *http.Client, req *http.Request) (*core.ExecutionResponse, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: serverMessage(data)}
	}
	var out core.ExecutionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
