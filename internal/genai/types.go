package genai

import "encoding/json"

// Wire types for the generative language REST API. Field names follow the
// raw JSON (camelCase) accepted by generateContent, batchGenerateContent and
// the batch results JSONL.

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
	FileData   *FileData   `json:"fileData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type FileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type ImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *ImageConfig `json:"imageConfig,omitempty"`
}

type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// APIError is the error envelope both top-level responses and individual
// batch result lines carry.
type APIError struct {
	Code    int    `json:"code,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// BatchRequestLine is one JSONL line of a batch input file. The key carries
// the correlation identity; the service echoes it back on the result line.
type BatchRequestLine struct {
	Key     string                 `json:"key"`
	Request GenerateContentRequest `json:"request"`
}

// BatchResultLine is one JSONL line of a batch responses file, or one entry
// of an inlined response list. Either Response or Error is set. Some API
// versions return the key at the top level, others nested under metadata.
type BatchResultLine struct {
	Key      string `json:"key,omitempty"`
	Metadata struct {
		Key string `json:"key,omitempty"`
	} `json:"metadata,omitempty"`
	Response *GenerateContentResponse `json:"response,omitempty"`
	Error    *APIError                `json:"error,omitempty"`
}

// CorrelationKey returns the request key regardless of which field the
// service used.
func (l *BatchResultLine) CorrelationKey() string {
	if l.Key != "" {
		return l.Key
	}
	return l.Metadata.Key
}

// ImageData returns the first inline image payload of the result, if any.
func (l *BatchResultLine) ImageData() (mime string, b64 string, ok bool) {
	if l.Response == nil {
		return "", "", false
	}
	return firstInlineImage(l.Response)
}

func firstInlineImage(resp *GenerateContentResponse) (string, string, bool) {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				return part.InlineData.MimeType, part.InlineData.Data, true
			}
		}
	}
	return "", "", false
}

// EncodedSize returns the serialized byte size of the line, used by the
// chunk planner to enforce the payload ceiling.
func (l BatchRequestLine) EncodedSize() int {
	raw, err := json.Marshal(l)
	if err != nil {
		return 0
	}
	return len(raw)
}

// ParseResultLine decodes one JSONL result line.
func ParseResultLine(raw []byte) (*BatchResultLine, error) {
	var line BatchResultLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, err
	}
	return &line, nil
}
