package segment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anhdng/ielts-pipeline/internal/config"
	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/platform/postgres"
)

type fakePassageWriter struct {
	deletedIDs []int64
	deleteRows int64
	deleteErr  error
	inserted   []domain.Passage
	bulkErr    error

	placeholders []domain.Passage
	insertID     int64
	insertErr    error
}

func (f *fakePassageWriter) Delete(_ context.Context, id int64) (int64, error) {
	f.deletedIDs = append(f.deletedIDs, id)
	return f.deleteRows, f.deleteErr
}

func (f *fakePassageWriter) BulkInsert(_ context.Context, passages []domain.Passage) error {
	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.inserted = append(f.inserted, passages...)
	return nil
}

func (f *fakePassageWriter) Insert(_ context.Context, p *domain.Passage) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.placeholders = append(f.placeholders, *p)
	return f.insertID, nil
}

type fakeTxRunner struct {
	beginErr error
	calls    int
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn postgres.TxFn) error {
	f.calls++
	if f.beginErr != nil {
		return f.beginErr
	}
	return fn(ctx, nil)
}

type fakeMarkerStore struct {
	marked []string
	err    error
}

func (f *fakeMarkerStore) MarkProcessed(_ context.Context, filename string) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, filename)
	return nil
}

func newTestProcessor(extract func(string) (Extraction, error), tx txRunner, passages passageStore, files markerStore) *Processor {
	return &Processor{
		tx:       tx,
		passages: func(postgres.Querier) passageStore { return passages },
		files:    func(postgres.Querier) markerStore { return files },
		extract:  extract,
		cfg:      config.PipelineConfig{ChunkSize: 1000, ChunkOverlap: 100},
	}
}

func processPayload(t *testing.T, path string) []byte {
	t.Helper()
	raw, err := json.Marshal(ProcessDocumentPayload{Path: path})
	require.NoError(t, err)
	return raw
}

func staticExtraction(e Extraction) func(string) (Extraction, error) {
	return func(string) (Extraction, error) { return e, nil }
}

func TestHandleProcessDocument_TitleOnlyDocumentIsTerminalSuccess(t *testing.T) {
	t.Parallel()

	writer := &fakePassageWriter{}
	files := &fakeMarkerStore{}
	p := newTestProcessor(staticExtraction(Extraction{Title: "Lonely Title"}), &fakeTxRunner{}, writer, files)

	res := p.HandleProcessDocument(context.Background(), processPayload(t, "/data/lonely.pdf"))

	require.True(t, res.IsSuccess())
	assert.Equal(t, []string{"lonely.pdf"}, files.marked, "marker still written so the file is never re-dispatched")
	assert.Empty(t, writer.placeholders, "no placeholder row for a title-only document")
	assert.Empty(t, writer.inserted)
}

func TestHandleProcessDocument_EmptyDocumentWritesMarkerOnly(t *testing.T) {
	t.Parallel()

	writer := &fakePassageWriter{}
	files := &fakeMarkerStore{}
	p := newTestProcessor(staticExtraction(Extraction{Empty: true}), &fakeTxRunner{}, writer, files)

	res := p.HandleProcessDocument(context.Background(), processPayload(t, "/data/blank.pdf"))

	require.True(t, res.IsSuccess())
	assert.Equal(t, []string{"blank.pdf"}, files.marked)
	assert.Empty(t, writer.placeholders)
}

func TestHandleProcessDocument_ExtractionFailureRetriesWithoutMarker(t *testing.T) {
	t.Parallel()

	extract := func(string) (Extraction, error) { return Extraction{}, errors.New("parser boom") }
	tx := &fakeTxRunner{}
	files := &fakeMarkerStore{}
	p := newTestProcessor(extract, tx, &fakePassageWriter{}, files)

	res := p.HandleProcessDocument(context.Background(), processPayload(t, "/data/broken.pdf"))

	assert.False(t, res.IsSuccess())
	assert.False(t, res.IsPermanent())
	assert.Zero(t, tx.calls, "nothing touches the database")
	assert.Empty(t, files.marked, "a failed file stays eligible for redelivery")
}

func TestHandleProcessDocument_ChunksReplaceAndMarkInOneTransaction(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("a", 250)
	writer := &fakePassageWriter{insertID: 42, deleteRows: 1}
	files := &fakeMarkerStore{}
	tx := &fakeTxRunner{}
	p := newTestProcessor(staticExtraction(Extraction{Title: "Glaciers", Body: body}), tx, writer, files)
	p.cfg = config.PipelineConfig{ChunkSize: 100, ChunkOverlap: 0}

	res := p.HandleProcessDocument(context.Background(), processPayload(t, "/data/glaciers.pdf"))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 1, tx.calls)

	require.Len(t, writer.placeholders, 1)
	assert.Equal(t, domain.StatusProcessing, writer.placeholders[0].Status)
	assert.Equal(t, []int64{42}, writer.deletedIDs, "placeholder swapped for its chunks")

	require.Len(t, writer.inserted, 3)
	assert.Equal(t, "Glaciers (Chunk 1)", writer.inserted[0].Title)
	assert.Equal(t, domain.StatusProcessedChunk, writer.inserted[0].Status)

	assert.Equal(t, []string{"glaciers.pdf"}, files.marked)
}

func TestHandleProcessDocument_DatabaseFailuresRetry(t *testing.T) {
	t.Parallel()

	extract := staticExtraction(Extraction{Title: "T", Body: "alpha beta"})

	p := newTestProcessor(extract, &fakeTxRunner{beginErr: errors.New("db down")}, &fakePassageWriter{}, &fakeMarkerStore{})
	res := p.HandleProcessDocument(context.Background(), processPayload(t, "/data/doc.pdf"))
	assert.False(t, res.IsSuccess())
	assert.False(t, res.IsPermanent())

	p = newTestProcessor(extract, &fakeTxRunner{}, &fakePassageWriter{insertErr: errors.New("insert boom")}, &fakeMarkerStore{})
	res = p.HandleProcessDocument(context.Background(), processPayload(t, "/data/doc.pdf"))
	assert.False(t, res.IsSuccess())
	assert.False(t, res.IsPermanent())

	p = newTestProcessor(extract, &fakeTxRunner{}, &fakePassageWriter{deleteRows: 1}, &fakeMarkerStore{err: errors.New("marker boom")})
	res = p.HandleProcessDocument(context.Background(), processPayload(t, "/data/doc.pdf"))
	assert.False(t, res.IsSuccess())
	assert.False(t, res.IsPermanent())
}

func TestHandleProcessDocument_MalformedPayloadIsPermanent(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(staticExtraction(Extraction{}), &fakeTxRunner{}, &fakePassageWriter{}, &fakeMarkerStore{})

	res := p.HandleProcessDocument(context.Background(), []byte("{not json"))
	assert.True(t, res.IsPermanent())
}

func TestReplaceWithChunks_SwapsPlaceholderForChunks(t *testing.T) {
	t.Parallel()

	writer := &fakePassageWriter{deleteRows: 1}
	chunks := []domain.Passage{
		{Title: "T (Chunk 1)", Text: "a", Status: domain.StatusProcessedChunk},
		{Title: "T (Chunk 2)", Text: "b", Status: domain.StatusProcessedChunk},
	}

	n, err := replaceWithChunks(context.Background(), writer, 42, chunks)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{42}, writer.deletedIDs)
	assert.Equal(t, chunks, writer.inserted)
}

func TestReplaceWithChunks_ZeroChunksDeletesPlaceholder(t *testing.T) {
	t.Parallel()

	writer := &fakePassageWriter{deleteRows: 1}

	n, err := replaceWithChunks(context.Background(), writer, 7, nil)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []int64{7}, writer.deletedIDs)
	assert.Empty(t, writer.inserted)
}

func TestReplaceWithChunks_MissingPlaceholderIsNotFatal(t *testing.T) {
	t.Parallel()

	writer := &fakePassageWriter{deleteRows: 0}
	chunks := []domain.Passage{{Title: "T (Chunk 1)", Text: "a", Status: domain.StatusProcessedChunk}}

	n, err := replaceWithChunks(context.Background(), writer, 7, chunks)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplaceWithChunks_PropagatesErrors(t *testing.T) {
	t.Parallel()

	deleteErr := errors.New("delete boom")
	_, err := replaceWithChunks(context.Background(), &fakePassageWriter{deleteErr: deleteErr}, 1, nil)
	assert.ErrorIs(t, err, deleteErr)

	bulkErr := errors.New("insert boom")
	writer := &fakePassageWriter{deleteRows: 1, bulkErr: bulkErr}
	chunks := []domain.Passage{{Title: "T (Chunk 1)", Text: "a", Status: domain.StatusProcessedChunk}}
	_, err = replaceWithChunks(context.Background(), writer, 1, chunks)
	assert.ErrorIs(t, err, bulkErr)
}
