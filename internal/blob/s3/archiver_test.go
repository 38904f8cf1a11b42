package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

type fakeWriter struct {
	path        string
	contentType string
	body        []byte
	puts        int
	err         error
}

func (f *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.puts++
	f.path = path
	f.contentType = contentType
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.body = body
	return nil
}

func (f *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return errors.New("unexpected multipart upload")
}

// fakeReader serves a single stored object, mimicking the empty-bucket and
// existing-archive cases.
type fakeReader struct {
	objects map[string][]byte
}

func (f *fakeReader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeReader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (f *fakeReader) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type fakeExecStore struct {
	rows []domain.Execution
	err  error
}

func (f *fakeExecStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Execution, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

type fakeAudit struct {
	events []string
	detail map[string]any
}

func (f *fakeAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.detail = detail
	return nil
}

func terminalExecution(id string, status domain.ExecutionStatus) domain.Execution {
	return domain.Execution{
		ID:                id,
		StrategyID:        "strat-1",
		UserID:            "user-1",
		RecommendedAmount: big.NewInt(1_000_000),
		Status:            status,
		CreatedAt:         time.Date(2026, 5, 14, 9, 30, 0, 0, time.UTC),
	}
}

func emptyReader() *fakeReader {
	return &fakeReader{objects: map[string][]byte{}}
}

func TestArchiveExecutionsUploadsJSONL(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeExecStore{rows: []domain.Execution{
		terminalExecution("e1", domain.StatusExecuted),
		terminalExecution("e2", domain.StatusFailed),
		terminalExecution("e3", domain.StatusSkipped),
	}}
	audit := &fakeAudit{}

	arch := NewArchiver(writer, emptyReader(), store, audit)
	before := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	count, err := arch.ArchiveExecutions(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	assert.Equal(t, "archive/executions/2026-08.jsonl", writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)

	lines := bytes.Split(bytes.TrimRight(writer.body, "\n"), []byte("\n"))
	require.Len(t, lines, 3)
	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "e1", first["ID"])

	require.Equal(t, []string{"archive.executions"}, audit.events)
	assert.Equal(t, int64(3), audit.detail["count"])
	assert.Equal(t, writer.path, audit.detail["path"])
}

func TestArchiveExecutionsMergesWithExistingObject(t *testing.T) {
	before := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	path := archivePath("executions", before)

	already, err := marshalJSONL([]domain.Execution{terminalExecution("e1", domain.StatusExecuted)})
	require.NoError(t, err)
	reader := &fakeReader{objects: map[string][]byte{path: already}}

	writer := &fakeWriter{}
	store := &fakeExecStore{rows: []domain.Execution{
		terminalExecution("e1", domain.StatusExecuted),
		terminalExecution("e2", domain.StatusFailed),
	}}

	arch := NewArchiver(writer, reader, store, &fakeAudit{})
	count, err := arch.ArchiveExecutions(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "only the row missing from the archive counts")

	lines := bytes.Split(bytes.TrimRight(writer.body, "\n"), []byte("\n"))
	require.Len(t, lines, 2, "existing rows are kept, new ones appended")

	var ids []string
	for _, line := range lines {
		var row struct{ ID string }
		require.NoError(t, json.Unmarshal(line, &row))
		ids = append(ids, row.ID)
	}
	assert.Equal(t, []string{"e1", "e2"}, ids)
}

func TestArchiveExecutionsRerunIsIdempotent(t *testing.T) {
	before := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	path := archivePath("executions", before)

	rows := []domain.Execution{
		terminalExecution("e1", domain.StatusExecuted),
		terminalExecution("e2", domain.StatusFailed),
	}
	already, err := marshalJSONL(rows)
	require.NoError(t, err)
	reader := &fakeReader{objects: map[string][]byte{path: already}}

	writer := &fakeWriter{}
	arch := NewArchiver(writer, reader, &fakeExecStore{rows: rows}, &fakeAudit{})

	count, err := arch.ArchiveExecutions(context.Background(), before)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, writer.puts, "a fully archived batch uploads nothing")
}

func TestArchiveExecutionsNothingToArchive(t *testing.T) {
	writer := &fakeWriter{}
	arch := NewArchiver(writer, emptyReader(), &fakeExecStore{}, &fakeAudit{})

	count, err := arch.ArchiveExecutions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, writer.puts, "no object uploaded for an empty batch")
}

func TestArchiveExecutionsUploadFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bucket unavailable")}
	store := &fakeExecStore{rows: []domain.Execution{terminalExecution("e1", domain.StatusExecuted)}}
	audit := &fakeAudit{}

	arch := NewArchiver(writer, emptyReader(), store, audit)
	_, err := arch.ArchiveExecutions(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "upload"))
	assert.Empty(t, audit.events, "failed uploads are not audited as archived")
}

func TestArchivePathPartitionsByMonth(t *testing.T) {
	before := time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "archive/executions/2025-12.jsonl", archivePath("executions", before))
}
