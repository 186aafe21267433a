package batch

import (
	"context"
	"io"

	"batchgen/internal/genai"
)

// WorkerClient is the asynchronous compute boundary: submission, status,
// result download and best-effort cleanup. genai.Client implements it; tests
// substitute stubs.
type WorkerClient interface {
	UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error)
	CreateBatch(ctx context.Context, model, displayName, fileURI string) (string, error)
	GetBatchStatus(ctx context.Context, batchName string) (*genai.BatchStatus, error)
	DownloadResults(ctx context.Context, fileID string) (io.ReadCloser, error)
	GenerateImage(ctx context.Context, model string, request genai.GenerateContentRequest) (string, []byte, error)
	CancelBatch(ctx context.Context, batchName string) error
	DeleteFile(ctx context.Context, fileURI string) error
}
