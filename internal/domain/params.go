package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultModel is used when a job does not override the generation model.
const DefaultModel = "gemini-2.5-flash-image"

// MinPromptLen is the minimum accepted prompt length after trimming.
const MinPromptLen = 3

// JobParams is the closed, validated configuration of a job. One variant per
// mode; validated once at creation and frozen afterwards so chunk plans stay
// stable across retries.
type JobParams struct {
	Mode JobMode `json:"mode"`

	// Prompts holds one prompt in direct mode and one or more in batch mode.
	Prompts []string `json:"prompts"`

	// SourceURLs references the input images. SourceFolder may be given
	// instead, in which case eligible files are listed from the durable
	// store at submission time and frozen onto SourceURLs.
	SourceURLs   []string `json:"source_urls,omitempty"`
	SourceFolder string   `json:"source_folder,omitempty"`

	Ratios     []string `json:"ratios"`
	Variations int      `json:"variations"`
	Resolution string   `json:"resolution,omitempty"`
	Model      string   `json:"model,omitempty"`
}

// Validate checks the parameter set before any external call is made.
func (p *JobParams) Validate() error {
	switch p.Mode {
	case JobModeDirect, JobModeBatch:
	default:
		return fmt.Errorf("%w: unsupported mode %q", ErrValidation, p.Mode)
	}
	if len(p.Prompts) == 0 {
		return fmt.Errorf("%w: at least one prompt is required", ErrValidation)
	}
	for i, prompt := range p.Prompts {
		trimmed := strings.TrimSpace(prompt)
		if len(trimmed) < MinPromptLen {
			return fmt.Errorf("%w: prompt %d too short (minimum %d characters)", ErrValidation, i, MinPromptLen)
		}
		p.Prompts[i] = trimmed
	}
	if len(p.SourceURLs) == 0 && strings.TrimSpace(p.SourceFolder) == "" {
		return fmt.Errorf("%w: source_urls or source_folder is required", ErrValidation)
	}
	if len(p.Ratios) == 0 {
		p.Ratios = []string{"1:1"}
	}
	if p.Variations <= 0 {
		p.Variations = 1
	}
	if p.Model == "" {
		p.Model = DefaultModel
	}
	return nil
}

// EncodeParams serializes params for the jobs row.
func EncodeParams(p JobParams) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeParams restores params from the jobs row.
func DecodeParams(raw []byte) (JobParams, error) {
	var p JobParams
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode job params: %w", err)
	}
	return p, nil
}
