package storage

import "context"

// ObjectStore is the durable byte-storage contract the orchestrator consumes.
// Upload returns the canonical URI of the stored object; List returns the
// URIs under a prefix in lexical order.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, uri string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
