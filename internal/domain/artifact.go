package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ResultArtifact is one generated output. URI is the stable identity used
// for deduplication: within a job no two artifacts share the same URI.
type ResultArtifact struct {
	Key            string    `json:"key"`
	URI            string    `json:"uri"`
	SourceIndex    int       `json:"source_index"`
	PromptIndex    int       `json:"prompt_index"`
	Ratio          string    `json:"ratio"`
	VariationIndex int       `json:"variation_index"`
	CreatedAt      time.Time `json:"created_at"`
}

// ArtifactSet holds a job's artifacts keyed by stable identity. Merging is
// the only way in, so double-counting a re-delivered result is structurally
// impossible.
type ArtifactSet struct {
	byURI map[string]ResultArtifact
}

// NewArtifactSet builds a set from existing artifacts, keeping the first
// occurrence of each URI.
func NewArtifactSet(artifacts ...ResultArtifact) ArtifactSet {
	s := ArtifactSet{byURI: make(map[string]ResultArtifact, len(artifacts))}
	s.Merge(artifacts...)
	return s
}

// Merge adds artifacts, skipping any whose URI is already present. It
// returns the number actually added.
func (s *ArtifactSet) Merge(artifacts ...ResultArtifact) int {
	if s.byURI == nil {
		s.byURI = make(map[string]ResultArtifact, len(artifacts))
	}
	added := 0
	for _, a := range artifacts {
		if a.URI == "" {
			continue
		}
		if _, ok := s.byURI[a.URI]; ok {
			continue
		}
		s.byURI[a.URI] = a
		added++
	}
	return added
}

// Len returns the number of distinct artifacts.
func (s ArtifactSet) Len() int {
	return len(s.byURI)
}

// Has reports whether the stable identity is already recorded.
func (s ArtifactSet) Has(uri string) bool {
	_, ok := s.byURI[uri]
	return ok
}

// List returns the artifacts ordered by correlation key for stable output.
func (s ArtifactSet) List() []ResultArtifact {
	out := make([]ResultArtifact, 0, len(s.byURI))
	for _, a := range s.byURI {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// MarshalJSON serializes the set as an ordered artifact list.
func (s ArtifactSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON restores the set from an artifact list, deduplicating.
func (s *ArtifactSet) UnmarshalJSON(raw []byte) error {
	var list []ResultArtifact
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("decode artifact set: %w", err)
	}
	*s = NewArtifactSet(list...)
	return nil
}
