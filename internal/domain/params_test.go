package domain

import (
	"errors"
	"testing"
)

func validParams() JobParams {
	return JobParams{
		Mode:       JobModeBatch,
		Prompts:    []string{"studio product shot"},
		SourceURLs: []string{"sources/a.png"},
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	p := validParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if len(p.Ratios) != 1 || p.Ratios[0] != "1:1" {
		t.Fatalf("Ratios = %v, want default [1:1]", p.Ratios)
	}
	if p.Variations != 1 {
		t.Fatalf("Variations = %d, want 1", p.Variations)
	}
	if p.Model != DefaultModel {
		t.Fatalf("Model = %q, want %q", p.Model, DefaultModel)
	}
}

func TestValidateTrimsPrompts(t *testing.T) {
	p := validParams()
	p.Prompts = []string{"  lifestyle banner  "}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if p.Prompts[0] != "lifestyle banner" {
		t.Fatalf("prompt = %q, want trimmed", p.Prompts[0])
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*JobParams)
	}{
		{"unknown mode", func(p *JobParams) { p.Mode = "stream" }},
		{"no prompts", func(p *JobParams) { p.Prompts = nil }},
		{"short prompt", func(p *JobParams) { p.Prompts = []string{"ok"} }},
		{"whitespace prompt", func(p *JobParams) { p.Prompts = []string{"   a   "} }},
		{"no sources", func(p *JobParams) { p.SourceURLs = nil; p.SourceFolder = "  " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			err := p.Validate()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate = %v, want ErrValidation", err)
			}
		})
	}
}

func TestValidateAcceptsSourceFolderOnly(t *testing.T) {
	p := validParams()
	p.SourceURLs = nil
	p.SourceFolder = "uploads/catalog"
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestParamsEncodeDecodeRoundTrip(t *testing.T) {
	p := validParams()
	p.Ratios = []string{"16:9", "1:1"}
	p.Variations = 3
	p.Resolution = "2K"
	raw, err := EncodeParams(p)
	if err != nil {
		t.Fatalf("EncodeParams returned error: %v", err)
	}
	got, err := DecodeParams(raw)
	if err != nil {
		t.Fatalf("DecodeParams returned error: %v", err)
	}
	if got.Variations != 3 || got.Resolution != "2K" || len(got.Ratios) != 2 {
		t.Fatalf("decoded params mismatch: %+v", got)
	}
}
