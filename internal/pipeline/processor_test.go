package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"zhiwen-go/internal/config"
	"zhiwen-go/internal/model"
	"zhiwen-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	data []byte
	err  error
}

func (s *fakeObjectStore) GetObjectBytes(ctx context.Context, objectName string) ([]byte, error) {
	return s.data, s.err
}

type fakeIndexer struct {
	indexed   []model.EsChunk
	deleted   []string
	indexErr  error
	deleteErr error
}

func (x *fakeIndexer) BulkIndexChunks(ctx context.Context, chunks []model.EsChunk) error {
	if x.indexErr != nil {
		return x.indexErr
	}
	x.indexed = append(x.indexed, chunks...)
	return nil
}

func (x *fakeIndexer) DeleteByDocumentID(ctx context.Context, documentID string) error {
	x.deleted = append(x.deleted, documentID)
	return x.deleteErr
}

type fakeEnricher struct {
	metadata model.DocumentMetadata
}

func (e *fakeEnricher) ExtractDocumentMetadata(ctx context.Context, text, filename string) model.DocumentMetadata {
	return e.metadata
}

func (e *fakeEnricher) ExtractChunkKeyTerms(ctx context.Context, chunkTexts []string) [][]string {
	terms := make([][]string, len(chunkTexts))
	for i := range terms {
		terms[i] = []string{"term"}
	}
	return terms
}

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i), 1.0}
	}
	return vectors, nil
}

// fakeDocRepo 记录状态转换, 只实现处理器用到的行为。
type fakeDocRepo struct {
	status       string
	chunkCount   int
	errorMessage string
	chunks       []model.Chunk
	markReadyErr error
}

func (r *fakeDocRepo) Create(doc *model.Document) error                      { return nil }
func (r *fakeDocRepo) FindByID(id string) (*model.Document, error)           { return nil, nil }
func (r *fakeDocRepo) FindByIDAndUser(id, u string) (*model.Document, error) { return nil, nil }
func (r *fakeDocRepo) FindByUserID(u string) ([]model.Document, error)       { return nil, nil }
func (r *fakeDocRepo) FindReadyByContentHash(h string) (*model.Document, error) {
	return nil, nil
}
func (r *fakeDocRepo) MarkProcessing(id string) error {
	r.status = model.DocumentStatusProcessing
	return nil
}
func (r *fakeDocRepo) MarkReady(id string, chunkCount int) error {
	if r.markReadyErr != nil {
		return r.markReadyErr
	}
	r.status = model.DocumentStatusReady
	r.chunkCount = chunkCount
	return nil
}
func (r *fakeDocRepo) MarkError(id string, message string) error {
	r.status = model.DocumentStatusError
	r.errorMessage = message
	return nil
}
func (r *fakeDocRepo) Delete(id string) error { return nil }
func (r *fakeDocRepo) BatchCreateChunks(chunks []model.Chunk, batchSize int) error {
	r.chunks = append(r.chunks, chunks...)
	return nil
}
func (r *fakeDocRepo) DeleteChunksByDocumentID(documentID string) error { return nil }
func (r *fakeDocRepo) CountReadyByUser(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}
func (r *fakeDocRepo) InvalidateReadyCount(ctx context.Context, userID string) {}

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{
		ChunkSize:         1000,
		ChunkOverlap:      200,
		EmbeddingBatch:    100,
		InsertBatch:       50,
		KeyTermsBatch:     5,
		RerankTopN:        5,
		MatchCount:        20,
		SourceThreshold:   0.3,
		SourceLimit:       3,
		ExcerptLength:     200,
		MaxToolRounds:     3,
		MetadataSampleLen: 2000,
	}
}

func newTestProcessor(repo *fakeDocRepo, store *fakeObjectStore, embedder *fakeEmbedder, indexer *fakeIndexer) *Processor {
	topic := "testing"
	return NewProcessor(
		NewExtractor(nil),
		&fakeEnricher{metadata: model.DocumentMetadata{Topic: &topic, Language: "en"}},
		embedder,
		store,
		indexer,
		repo,
		"text-embedding-3-small",
		testRAGConfig(),
	)
}

func TestProcessor_PlainTextReachesReady(t *testing.T) {
	repo := &fakeDocRepo{}
	store := &fakeObjectStore{data: []byte(strings.Repeat("a", 2500))}
	indexer := &fakeIndexer{}
	p := newTestProcessor(repo, store, &fakeEmbedder{}, indexer)

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{
		DocumentID:  "doc-1",
		StoragePath: "u1/doc-1/a.txt",
		MimeType:    "text/plain",
		Filename:    "a.txt",
		UserID:      "u1",
	})

	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusReady, repo.status)
	assert.Equal(t, 4, repo.chunkCount)
	require.Len(t, repo.chunks, 4)
	for i, c := range repo.chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, "testing", *c.Metadata.Topic)
		assert.Equal(t, []string{"term"}, c.Metadata.KeyTerms)
	}
	require.Len(t, indexer.indexed, 4)
	for i, ec := range indexer.indexed {
		assert.Equal(t, "doc-1", ec.DocumentID)
		assert.Equal(t, "u1", ec.UserID)
		assert.NotEmpty(t, ec.Vector)
		assert.Equal(t, i, ec.ChunkIndex)
	}
}

func TestProcessor_UnsupportedTypeMarksError(t *testing.T) {
	repo := &fakeDocRepo{}
	store := &fakeObjectStore{data: []byte("binary")}
	p := newTestProcessor(repo, store, &fakeEmbedder{}, &fakeIndexer{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{
		DocumentID: "doc-2",
		MimeType:   "image/png",
		Filename:   "a.png",
	})

	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusError, repo.status)
	assert.Contains(t, repo.errorMessage, "unsupported file type")
	assert.Empty(t, repo.chunks)
}

func TestProcessor_EmptyContentMarksError(t *testing.T) {
	repo := &fakeDocRepo{}
	store := &fakeObjectStore{data: []byte("   \n\t ")}
	p := newTestProcessor(repo, store, &fakeEmbedder{}, &fakeIndexer{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{
		DocumentID: "doc-3",
		MimeType:   "text/plain",
		Filename:   "empty.txt",
	})

	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusError, repo.status)
	assert.NotEmpty(t, repo.errorMessage)
}

func TestProcessor_EmbeddingFailureMarksError(t *testing.T) {
	repo := &fakeDocRepo{}
	store := &fakeObjectStore{data: []byte("some content")}
	p := newTestProcessor(repo, store, &fakeEmbedder{err: errors.New("rate limited")}, &fakeIndexer{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{
		DocumentID: "doc-4",
		MimeType:   "text/plain",
		Filename:   "a.txt",
	})

	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusError, repo.status)
	assert.Contains(t, repo.errorMessage, "rate limited")
	assert.Empty(t, repo.chunks)
}

func TestProcessor_DownloadFailureMarksError(t *testing.T) {
	repo := &fakeDocRepo{}
	store := &fakeObjectStore{err: errors.New("object not found")}
	p := newTestProcessor(repo, store, &fakeEmbedder{}, &fakeIndexer{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{
		DocumentID: "doc-5",
		MimeType:   "text/plain",
		Filename:   "a.txt",
	})

	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusError, repo.status)
	assert.Contains(t, repo.errorMessage, "object not found")
}
