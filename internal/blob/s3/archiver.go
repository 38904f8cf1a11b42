package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// archiveBatchSize bounds how many rows a single archive pass pulls from the
// database. Anything beyond the batch is picked up by the next scheduled run.
const archiveBatchSize = 10_000

const contentTypeJSONL = "application/x-ndjson"

// ExecutionArchiveStore is the slice of the execution store the archiver
// needs: terminal rows older than the cutoff, oldest first. The Postgres
// ExecutionStore satisfies it through ListTerminalBefore.
type ExecutionArchiveStore interface {
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Execution, error)
}

// Archiver implements domain.Archiver: terminal executions older than the
// cutoff are serialized to JSONL and appended to a month-partitioned archive
// object. Rows already present in the object are skipped by execution ID, so
// repeated passes over the same month are idempotent.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step taken after the archive
// has been verified.
type Archiver struct {
	writer     domain.BlobWriter
	reader     domain.BlobReader
	executions ExecutionArchiveStore
	audit      domain.AuditStore
}

// NewArchiver builds an Archiver over the blob store. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, executions ExecutionArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:     writer,
		reader:     reader,
		executions: executions,
		audit:      audit,
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// ArchiveExecutions archives terminal executions created before the cutoff
// into archive/executions/YYYY-MM.jsonl, merging with whatever the object
// already holds. Returns the number of newly archived rows; the archival
// event lands in the audit log when any were written.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.executions.ListTerminalBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(execs) == 0 {
		return 0, nil
	}

	path := archivePath("executions", before)
	existing, archived, err := a.loadArchived(ctx, path)
	if err != nil {
		return 0, err
	}

	fresh := execs[:0]
	for _, exec := range execs {
		if !archived[exec.ID] {
			fresh = append(fresh, exec)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	lines, err := marshalJSONL(fresh)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	body := append(existing, lines...)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), contentTypeJSONL); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	count := int64(len(fresh))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}
	return count, nil
}

// loadArchived fetches the current month object and indexes the execution
// IDs it already holds. A missing object means a fresh month. The returned
// bytes always end in a newline so appended lines stay well-formed.
func (a *Archiver) loadArchived(ctx context.Context, path string) ([]byte, map[string]bool, error) {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("s3blob: archive read %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("s3blob: archive read %s: %w", path, err)
	}

	archived := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row struct {
			ID string
		}
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, nil, fmt.Errorf("s3blob: archive %s holds a malformed line: %w", path, err)
		}
		archived[row.ID] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("s3blob: archive scan %s: %w", path, err)
	}

	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	return data, archived, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/executions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
