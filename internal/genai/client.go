package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"batchgen/internal/domain"
	"batchgen/internal/infra"
)

// Options controls how the client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is the only path to the external generation worker: file staging,
// synchronous generation, batch submission, status polling, result download
// and best-effort cleanup. All long-running compute happens upstream; every
// method here is a bounded network call.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults. Callers may provide a
// nil HTTP client; a reusable one with a timeout will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	model := opts.Model
	if model == "" {
		model = domain.DefaultModel
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured default model identifier.
func (c *Client) Model() string {
	return c.model
}

// UploadFile stages bytes with the provider's File API and returns the file
// URI (e.g. "files/abc123"). Staged files back both source payloads and
// JSONL chunk bodies.
func (c *Client) UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/upload/v1beta/files?uploadType=media&key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build upload request: %v", domain.ErrExternalService, err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	if displayName != "" {
		req.Header.Set("X-Goog-File-Name", displayName)
	}

	var resp struct {
		File struct {
			Name string `json:"name"`
			URI  string `json:"uri"`
		} `json:"file"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.File.Name == "" {
		return "", fmt.Errorf("%w: upload returned no file name", domain.ErrExternalService)
	}
	c.logger.Debug().Str("file", resp.File.Name).Int("bytes", len(data)).Msg("genai: staged file")
	return resp.File.Name, nil
}

// CreateBatch submits a staged JSONL request file as one batch and returns
// the opaque batch name used for later status queries.
func (c *Client) CreateBatch(ctx context.Context, model, displayName, fileURI string) (string, error) {
	if model == "" {
		model = c.model
	}
	payload := map[string]any{
		"batch": map[string]any{
			"display_name": displayName,
			"input_config": map[string]any{"file_name": fileURI},
		},
	}
	var resp struct {
		Name string `json:"name"`
	}
	path := fmt.Sprintf("/v1beta/models/%s:batchGenerateContent", url.PathEscape(model))
	if err := c.post(ctx, path, payload, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", fmt.Errorf("%w: batch create returned no name", domain.ErrExternalService)
	}
	c.logger.Info().Str("batch", resp.Name).Str("model", model).Msg("genai: batch submitted")
	return resp.Name, nil
}

// CreateInlineBatch submits the request lines inline, skipping the File API.
// Used for small chunks where a staging round-trip is not worth it.
func (c *Client) CreateInlineBatch(ctx context.Context, model, displayName string, lines []BatchRequestLine) (string, error) {
	if model == "" {
		model = c.model
	}
	requests := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		requests = append(requests, map[string]any{
			"request":  line.Request,
			"metadata": map[string]string{"key": line.Key},
		})
	}
	payload := map[string]any{
		"batch": map[string]any{
			"display_name": displayName,
			"input_config": map[string]any{"requests": map[string]any{"requests": requests}},
		},
	}
	var resp struct {
		Name string `json:"name"`
	}
	path := fmt.Sprintf("/v1beta/models/%s:batchGenerateContent", url.PathEscape(model))
	if err := c.post(ctx, path, payload, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", fmt.Errorf("%w: batch create returned no name", domain.ErrExternalService)
	}
	return resp.Name, nil
}

// BatchStatus is the normalized view of one external chunk reference.
type BatchStatus struct {
	Name            string
	State           State
	ResponsesFile   string
	InlineResponses []BatchResultLine
	ErrorMessage    string
}

// rawBatch covers both wire shapes a status query may return: the flat
// batch object and the long-running operation with the batch nested under
// metadata/response.
type rawBatch struct {
	Name     string          `json:"name"`
	State    string          `json:"state"`
	Dest     *rawDest        `json:"dest"`
	Error    *APIError       `json:"error"`
	Done     bool            `json:"done"`
	Metadata json.RawMessage `json:"metadata"`
	Response json.RawMessage `json:"response"`
}

type rawDest struct {
	ResponsesFile     string            `json:"responsesFile"`
	ResponsesFileName string            `json:"responsesFileName"`
	FileName          string            `json:"fileName"`
	InlinedResponses  []BatchResultLine `json:"inlinedResponses"`
}

func (d *rawDest) file() string {
	if d == nil {
		return ""
	}
	for _, name := range []string{d.ResponsesFile, d.ResponsesFileName, d.FileName} {
		if name != "" {
			return name
		}
	}
	return ""
}

// GetBatchStatus queries the current status of a batch and normalizes the
// response into the internal taxonomy, whichever shape the service used.
func (c *Client) GetBatchStatus(ctx context.Context, batchName string) (*BatchStatus, error) {
	var raw rawBatch
	if err := c.get(ctx, "/v1beta/"+batchName, &raw); err != nil {
		return nil, err
	}
	return normalizeBatch(batchName, &raw)
}

func normalizeBatch(batchName string, raw *rawBatch) (*BatchStatus, error) {
	status := &BatchStatus{Name: batchName}

	state := raw.State
	dest := raw.Dest
	errMsg := ""
	if raw.Error != nil {
		errMsg = raw.Error.Message
	}

	// Operation shape: state lives under metadata, results under response.
	if state == "" && len(raw.Metadata) > 0 {
		var meta struct {
			State string   `json:"state"`
			Dest  *rawDest `json:"dest"`
		}
		if err := json.Unmarshal(raw.Metadata, &meta); err == nil {
			state = meta.State
			if dest == nil {
				dest = meta.Dest
			}
		}
	}
	if dest == nil && len(raw.Response) > 0 {
		var resp struct {
			State string   `json:"state"`
			Dest  *rawDest `json:"dest"`
			// Older responses put the dest fields at the top level.
			ResponsesFile    string            `json:"responsesFile"`
			InlinedResponses []BatchResultLine `json:"inlinedResponses"`
		}
		if err := json.Unmarshal(raw.Response, &resp); err == nil {
			if state == "" {
				state = resp.State
			}
			dest = resp.Dest
			if dest == nil && (resp.ResponsesFile != "" || len(resp.InlinedResponses) > 0) {
				dest = &rawDest{ResponsesFile: resp.ResponsesFile, InlinedResponses: resp.InlinedResponses}
			}
		}
	}

	status.State = NormalizeState(state)
	if raw.Done && !status.State.Done() && errMsg != "" {
		status.State = StateFailed
	}
	status.ErrorMessage = errMsg
	if dest != nil {
		status.ResponsesFile = dest.file()
		status.InlineResponses = dest.InlinedResponses
	}
	return status, nil
}

// DownloadResults streams the JSONL responses file of a succeeded batch.
// The caller owns the returned reader.
func (c *Client) DownloadResults(ctx context.Context, fileID string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/download/v1beta/%s:download?alt=media&key=%s", c.baseURL, fileID, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build download request: %v", domain.ErrExternalService, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %v", domain.ErrExternalService, fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.decodeError(resp)
	}
	return resp.Body, nil
}

// GenerateImage performs one synchronous generation call for direct-mode
// jobs and returns the raw image bytes of the first candidate.
func (c *Client) GenerateImage(ctx context.Context, model string, request GenerateContentRequest) (string, []byte, error) {
	if model == "" {
		model = c.model
	}
	var resp GenerateContentResponse
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", url.PathEscape(model))
	if err := c.post(ctx, path, request, &resp); err != nil {
		return "", nil, err
	}
	mime, b64, ok := firstInlineImage(&resp)
	if !ok {
		return "", nil, fmt.Errorf("%w: model returned no image data", domain.ErrExternalService)
	}
	data, err := decodeBase64(b64)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decode image payload: %v", domain.ErrExternalService, err)
	}
	return mime, data, nil
}

// CancelBatch asks the service to stop a batch. Best effort.
func (c *Client) CancelBatch(ctx context.Context, batchName string) error {
	return c.post(ctx, "/v1beta/"+batchName+":cancel", struct{}{}, nil)
}

// DeleteFile removes a staged file. Best effort.
func (c *Client) DeleteFile(ctx context.Context, fileURI string) error {
	endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, fileURI, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build delete request: %v", domain.ErrExternalService, err)
	}
	return c.do(req, nil)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s%s?key=%s", c.baseURL, path, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrExternalService, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	endpoint := fmt.Sprintf("%s%s?key=%s", c.baseURL, path, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrExternalService, err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrExternalService, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrExternalService, err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%w: %s (http %d)", domain.ErrExternalService, envelope.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("%w: http %d: %s", domain.ErrExternalService, resp.StatusCode, strings.TrimSpace(string(raw)))
}
