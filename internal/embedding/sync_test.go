package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/platform/qdrant"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

type fakePassages struct {
	passages []domain.Passage
	getErr   error

	statusCalls []statusCall
	statusErrAt int // 1-based call index that fails, 0 = never
}

type statusCall struct {
	ids    []int64
	status domain.PassageStatus
}

func (f *fakePassages) GetByIDs(_ context.Context, ids []int64) ([]domain.Passage, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.passages, nil
}

func (f *fakePassages) UpdateStatus(_ context.Context, ids []int64, status domain.PassageStatus) error {
	f.statusCalls = append(f.statusCalls, statusCall{ids: ids, status: status})
	if f.statusErrAt == len(f.statusCalls) {
		return errors.New("status boom")
	}
	return nil
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeIndex struct {
	batches [][]qdrant.Point
	err     error
}

func (f *fakeIndex) Upsert(_ context.Context, points []qdrant.Point) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, points)
	return nil
}

type fakePublisher struct {
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, _ task.Queue, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func encodePayload(t *testing.T, p SyncPayload) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func TestHandleSync_MalformedPayloadIsPermanent(t *testing.T) {
	t.Parallel()

	s := NewSyncer(&fakePassages{}, &fakeEmbedder{}, &fakeIndex{}, &fakePublisher{}, 10)

	res := s.HandleSync(context.Background(), []byte("{not json"))
	assert.True(t, res.IsPermanent())

	res = s.HandleSync(context.Background(), encodePayload(t, SyncPayload{Stage: "nonsense"}))
	assert.True(t, res.IsPermanent())
}

func TestPrepare_ChainsUpsertWithPreparedRecords(t *testing.T) {
	t.Parallel()

	passages := &fakePassages{passages: []domain.Passage{
		{ID: 1, Title: "A (Chunk 1)", Text: "alpha", Status: domain.StatusPendingEmbedding},
		{ID: 2, Title: "A (Chunk 2)", Text: "beta", Status: domain.StatusPendingEmbedding},
	}}
	pub := &fakePublisher{}
	s := NewSyncer(passages, &fakeEmbedder{}, &fakeIndex{}, pub, 10)

	res := s.HandleSync(context.Background(),
		encodePayload(t, SyncPayload{Stage: StagePrepare, IDs: []int64{1, 2}}))

	require.True(t, res.IsSuccess())
	require.Len(t, pub.payloads, 1)

	var next SyncPayload
	require.NoError(t, json.Unmarshal(pub.payloads[0], &next))
	assert.Equal(t, StageUpsert, next.Stage)
	require.Len(t, next.Records, 2)
	for _, r := range next.Records {
		assert.Equal(t, StatusPrepared, r.Status)
		assert.NotEmpty(t, r.Text)
	}
}

func TestPrepare_FailsOutTextlessPassagesImmediately(t *testing.T) {
	t.Parallel()

	passages := &fakePassages{passages: []domain.Passage{
		{ID: 1, Title: "A (Chunk 1)", Text: "", Status: domain.StatusPendingEmbedding},
		{ID: 2, Title: "A (Chunk 2)", Text: "beta", Status: domain.StatusPendingEmbedding},
	}}
	pub := &fakePublisher{}
	s := NewSyncer(passages, &fakeEmbedder{}, &fakeIndex{}, pub, 10)

	res := s.HandleSync(context.Background(),
		encodePayload(t, SyncPayload{Stage: StagePrepare, IDs: []int64{1, 2}}))

	require.True(t, res.IsSuccess())
	require.Len(t, passages.statusCalls, 1)
	assert.Equal(t, []int64{1}, passages.statusCalls[0].ids)
	assert.Equal(t, domain.StatusEmbeddingFailed, passages.statusCalls[0].status)

	var next SyncPayload
	require.NoError(t, json.Unmarshal(pub.payloads[0], &next))
	require.Len(t, next.Records, 1)
	assert.Equal(t, int64(2), next.Records[0].ID)
}

func TestPrepare_TransientFailuresRetry(t *testing.T) {
	t.Parallel()

	s := NewSyncer(&fakePassages{getErr: errors.New("db down")}, &fakeEmbedder{}, &fakeIndex{}, &fakePublisher{}, 10)
	res := s.HandleSync(context.Background(),
		encodePayload(t, SyncPayload{Stage: StagePrepare, IDs: []int64{1}}))
	assert.False(t, res.IsSuccess())
	assert.False(t, res.IsPermanent())

	passages := &fakePassages{passages: []domain.Passage{
		{ID: 1, Title: "T", Text: "x", Status: domain.StatusPendingEmbedding},
	}}
	s = NewSyncer(passages, &fakeEmbedder{}, &fakeIndex{}, &fakePublisher{err: errors.New("broker down")}, 10)
	res = s.HandleSync(context.Background(),
		encodePayload(t, SyncPayload{Stage: StagePrepare, IDs: []int64{1}}))
	assert.False(t, res.IsSuccess())
	assert.False(t, res.IsPermanent())
}

func TestUpsert_ShortCircuitsUnpreparedRecordsWithoutNetworkCalls(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	s := NewSyncer(&fakePassages{}, embedder, index, &fakePublisher{}, 10)

	res := s.HandleSync(context.Background(), encodePayload(t, SyncPayload{
		Stage: StageUpsert,
		Records: []Record{
			{ID: 1, Text: "alpha", Status: "raw"},
			{ID: 2, Text: "", Status: StatusPrepared},
		},
	}))

	require.True(t, res.IsSuccess())
	assert.Zero(t, embedder.calls)
	assert.Empty(t, index.batches)
}

func TestUpsert_MarksEachSubBatchAsItLands(t *testing.T) {
	t.Parallel()

	records := []Record{
		{ID: 1, Title: "T", Text: "a", Status: StatusPrepared},
		{ID: 2, Title: "T", Text: "b", Status: StatusPrepared},
		{ID: 3, Title: "T", Text: "c", Status: StatusPrepared},
	}
	passages := &fakePassages{}
	index := &fakeIndex{}
	s := NewSyncer(passages, &fakeEmbedder{}, index, &fakePublisher{}, 2)

	res := s.HandleSync(context.Background(),
		encodePayload(t, SyncPayload{Stage: StageUpsert, Records: records}))

	require.True(t, res.IsSuccess())
	require.Len(t, index.batches, 2)
	assert.Len(t, index.batches[0], 2)
	assert.Len(t, index.batches[1], 1)

	require.Len(t, passages.statusCalls, 2)
	assert.Equal(t, []int64{1, 2}, passages.statusCalls[0].ids)
	assert.Equal(t, []int64{3}, passages.statusCalls[1].ids)
	for _, call := range passages.statusCalls {
		assert.Equal(t, domain.StatusEmbedded, call.status)
	}
}

func TestUpsert_StatusFailureAfterIndexWriteRetries(t *testing.T) {
	t.Parallel()

	passages := &fakePassages{statusErrAt: 1}
	index := &fakeIndex{}
	s := NewSyncer(passages, &fakeEmbedder{}, index, &fakePublisher{}, 10)

	res := s.HandleSync(context.Background(), encodePayload(t, SyncPayload{
		Stage:   StageUpsert,
		Records: []Record{{ID: 1, Title: "T", Text: "a", Status: StatusPrepared}},
	}))

	// The index write landed; the retry re-upserts idempotently and
	// re-attempts the status flip.
	assert.False(t, res.IsSuccess())
	assert.False(t, res.IsPermanent())
	assert.Len(t, index.batches, 1)
}

func TestUpsert_EmbedFailureRetries(t *testing.T) {
	t.Parallel()

	s := NewSyncer(&fakePassages{}, &fakeEmbedder{err: errors.New("api down")}, &fakeIndex{}, &fakePublisher{}, 10)

	res := s.HandleSync(context.Background(), encodePayload(t, SyncPayload{
		Stage:   StageUpsert,
		Records: []Record{{ID: 1, Title: "T", Text: "a", Status: StatusPrepared}},
	}))

	assert.False(t, res.IsSuccess())
	assert.False(t, res.IsPermanent())
}

func TestVectorKey_DerivesFromPassageID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "passage-42", vectorKey(42))
}
