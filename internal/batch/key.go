package batch

import (
	"fmt"
	"strings"

	"batchgen/internal/domain"
)

// CorrelationKey identifies one requested (source, prompt, ratio, variation)
// combination. It is assigned when the request is built and travels with it
// through the external batch, because the service gives no ordering
// guarantee across or within chunk results.
type CorrelationKey struct {
	SourceIndex    int
	PromptIndex    int
	Ratio          string
	VariationIndex int
}

// String renders the key in the form embedded into batch request lines and
// storage paths, e.g. "src2_p0_r1x1_v3". Ratio colons are flattened so the
// key stays a single safe path segment.
func (k CorrelationKey) String() string {
	return fmt.Sprintf("src%d_p%d_r%s_v%d", k.SourceIndex, k.PromptIndex, flattenRatio(k.Ratio), k.VariationIndex)
}

// ParseCorrelationKey recovers a key from its string form.
func ParseCorrelationKey(s string) (CorrelationKey, error) {
	var key CorrelationKey
	parts := strings.Split(s, "_")
	if len(parts) != 4 {
		return key, fmt.Errorf("%w: malformed correlation key %q", domain.ErrValidation, s)
	}
	var ratio string
	n, err := fmt.Sscanf(parts[0]+" "+parts[1]+" "+parts[3], "src%d p%d v%d", &key.SourceIndex, &key.PromptIndex, &key.VariationIndex)
	if err != nil || n != 3 {
		return key, fmt.Errorf("%w: malformed correlation key %q", domain.ErrValidation, s)
	}
	if !strings.HasPrefix(parts[2], "r") {
		return key, fmt.Errorf("%w: malformed correlation key %q", domain.ErrValidation, s)
	}
	ratio = strings.TrimPrefix(parts[2], "r")
	key.Ratio = unflattenRatio(ratio)
	return key, nil
}

// ArtifactPath returns the deterministic durable-store path for the result
// of this key within a job.
func (k CorrelationKey) ArtifactPath(groupID, jobID string) string {
	return fmt.Sprintf("groups/%s/jobs/%s/%s.png", groupID, jobID, k.String())
}

func flattenRatio(ratio string) string {
	return strings.ReplaceAll(ratio, ":", "x")
}

func unflattenRatio(flat string) string {
	return strings.ReplaceAll(flat, "x", ":")
}
