package batch

import (
	"fmt"

	"batchgen/internal/domain"
	"batchgen/internal/genai"
)

// proImageModel is the only model requiring an explicit imageConfig block;
// the service defaults the rest.
const proImageModel = "gemini-3-pro-image-preview"

// SourceRef is one staged input image, addressed by the worker-side file URI
// produced when the source was uploaded to the provider's File API.
type SourceRef struct {
	Index    int
	FileURI  string
	MimeType string
}

// Chunk is a size-bounded subset of a job's request set, submitted as one
// unit to the external worker.
type Chunk struct {
	Index int
	Lines []genai.BatchRequestLine
}

// PlanInput carries everything the planner needs. The field order of the
// expansion is fixed: source, then prompt, then ratio, then variation —
// keys stay stable across retries as long as the parameter set is frozen.
type PlanInput struct {
	Params        domain.JobParams
	Sources       []SourceRef
	MaxChunkBytes int
}

// PlanChunks expands the full parameter cartesian product into ordered
// request chunks, each tagged with its correlation key at construction time
// and each serializing below the configured ceiling. A single oversized
// request still gets a chunk of its own rather than being dropped.
func PlanChunks(in PlanInput) ([]Chunk, error) {
	if len(in.Sources) == 0 {
		return nil, fmt.Errorf("%w: no eligible source items", domain.ErrValidation)
	}
	if len(in.Params.Prompts) == 0 {
		return nil, fmt.Errorf("%w: no prompts", domain.ErrValidation)
	}
	if in.MaxChunkBytes <= 0 {
		return nil, fmt.Errorf("%w: chunk size ceiling must be positive", domain.ErrValidation)
	}

	ratios := in.Params.Ratios
	if len(ratios) == 0 {
		ratios = []string{"1:1"}
	}
	variations := in.Params.Variations
	if variations <= 0 {
		variations = 1
	}

	var (
		chunks  []Chunk
		current Chunk
		size    int
	)
	flush := func() {
		if len(current.Lines) == 0 {
			return
		}
		current.Index = len(chunks)
		chunks = append(chunks, current)
		current = Chunk{}
		size = 0
	}

	for _, src := range in.Sources {
		for pi, prompt := range in.Params.Prompts {
			for _, ratio := range ratios {
				for vi := 0; vi < variations; vi++ {
					key := CorrelationKey{
						SourceIndex:    src.Index,
						PromptIndex:    pi,
						Ratio:          ratio,
						VariationIndex: vi,
					}
					line := buildRequestLine(key, src, prompt, ratio, in.Params)
					lineSize := line.EncodedSize() + 1 // newline
					if size+lineSize > in.MaxChunkBytes {
						flush()
					}
					current.Lines = append(current.Lines, line)
					size += lineSize
				}
			}
		}
	}
	flush()

	return chunks, nil
}

func buildRequestLine(key CorrelationKey, src SourceRef, prompt, ratio string, params domain.JobParams) genai.BatchRequestLine {
	mime := src.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	cfg := &genai.GenerationConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if params.Model == proImageModel {
		resolution := params.Resolution
		if resolution == "" {
			resolution = "1K"
		}
		cfg.ImageConfig = &genai.ImageConfig{
			AspectRatio: ratio,
			ImageSize:   resolution,
		}
	}
	return genai.BatchRequestLine{
		Key: key.String(),
		Request: genai.GenerateContentRequest{
			Contents: []genai.Content{{
				Role: "user",
				Parts: []genai.Part{
					{FileData: &genai.FileData{MimeType: mime, FileURI: src.FileURI}},
					{Text: prompt},
				},
			}},
			GenerationConfig: cfg,
		},
	}
}
