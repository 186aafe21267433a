package export

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"batchgen/internal/domain"
	"batchgen/internal/infra"
	"batchgen/internal/storage"
	"batchgen/pkg/archive"
)

// Mode selects how an export is delivered.
type Mode string

const (
	// ModeArchive streams a zip built server-side.
	ModeArchive Mode = "archive"
	// ModeManifest returns the (url, filename) pairs so the caller can
	// fetch and package the artifacts itself.
	ModeManifest Mode = "manifest"
)

// ParseMode validates the query parameter form, defaulting to archive.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeArchive, "":
		return ModeArchive, nil
	case ModeManifest:
		return ModeManifest, nil
	default:
		return "", fmt.Errorf("%w: unsupported export mode %q", domain.ErrValidation, s)
	}
}

// ManifestEntry is one line of a manifest export.
type ManifestEntry struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Result summarizes an archive export: how many entries were written and
// how many artifact fetches failed and were skipped.
type Result struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// Exporter packages the artifacts of a job, or of every completed job in a
// group, for download. It reads from the system of record and the durable
// store and never mutates either.
type Exporter struct {
	jobs        domain.JobRepository
	store       storage.ObjectStore
	logger      infra.Logger
	concurrency int
}

// NewExporter wires the export pipeline. Concurrency bounds parallel
// artifact fetches during archive streaming.
func NewExporter(jobs domain.JobRepository, store storage.ObjectStore, logger infra.Logger, concurrency int) *Exporter {
	if concurrency <= 0 {
		concurrency = 6
	}
	return &Exporter{jobs: jobs, store: store, logger: logger, concurrency: concurrency}
}

// JobEntries lists the export entries of one job.
func (e *Exporter) JobEntries(ctx context.Context, jobID string) ([]ManifestEntry, error) {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return entriesForJobs([]domain.Job{*job}), nil
}

// GroupEntries lists the export entries of every completed job in a group.
func (e *Exporter) GroupEntries(ctx context.Context, groupID string) ([]ManifestEntry, error) {
	jobs, err := e.jobs.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	var completed []domain.Job
	for _, job := range jobs {
		if job.Status == domain.JobStatusCompleted {
			completed = append(completed, job)
		}
	}
	return entriesForJobs(completed), nil
}

// WriteArchive streams every entry into a zip on w. The worker pool fetches
// one window of artifacts at a time, so no more than `concurrency` artifact
// payloads are ever buffered; each window is written out before the next is
// fetched. A failed artifact fetch is counted and skipped; the rest of the
// archive is unaffected.
func (e *Exporter) WriteArchive(ctx context.Context, w io.Writer, entries []ManifestEntry) (Result, error) {
	type fetched struct {
		data []byte
		err  error
	}

	zw := archive.NewWriter(w)
	var res Result

	for start := 0; start < len(entries); start += e.concurrency {
		end := start + e.concurrency
		if end > len(entries) {
			end = len(entries)
		}
		window := entries[start:end]
		results := make([]fetched, len(window))

		var wg sync.WaitGroup
		for i, entry := range window {
			wg.Add(1)
			go func(idx int, uri string) {
				defer wg.Done()
				data, err := e.store.Download(ctx, uri)
				results[idx] = fetched{data: data, err: err}
			}(i, entry.URL)
		}
		wg.Wait()

		for i, entry := range window {
			if results[i].err != nil {
				res.Failed++
				e.logger.Warn().
					Err(results[i].err).
					Str("uri", entry.URL).
					Msg("export: artifact fetch failed, entry skipped")
				continue
			}
			if err := zw.Add(entry.Filename, results[i].data); err != nil {
				return res, err
			}
			res.Written++
		}
	}

	if err := zw.Close(); err != nil {
		return res, err
	}
	return res, nil
}

// entriesForJobs namespaces every artifact filename by its sanitized job
// identifier so two jobs in the same export cannot collide.
func entriesForJobs(jobs []domain.Job) []ManifestEntry {
	var entries []ManifestEntry
	for _, job := range jobs {
		prefix := sanitizeIdentifier(job.ID)
		for _, artifact := range job.Artifacts.List() {
			name := path.Base(artifact.URI)
			if name == "." || name == "/" || name == "" {
				name = artifact.Key + ".png"
			}
			entries = append(entries, ManifestEntry{
				URL:      artifact.URI,
				Filename: prefix + "/" + name,
			})
		}
	}
	return entries
}

// sanitizeIdentifier keeps archive prefixes to a safe character set.
func sanitizeIdentifier(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}
