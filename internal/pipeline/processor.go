package pipeline

import (
	"context"
	"fmt"
	"unicode/utf8"

	"zhiwen-go/internal/config"
	"zhiwen-go/internal/model"
	"zhiwen-go/internal/repository"
	"zhiwen-go/pkg/embedding"
	"zhiwen-go/pkg/es"
	"zhiwen-go/pkg/log"
	"zhiwen-go/pkg/storage"
	"zhiwen-go/pkg/tasks"
)

// MetadataEnricher 提供尽力而为的元数据充实，失败时返回默认值而非错误。
type MetadataEnricher interface {
	ExtractDocumentMetadata(ctx context.Context, text, filename string) model.DocumentMetadata
	ExtractChunkKeyTerms(ctx context.Context, chunkTexts []string) [][]string
}

// ObjectStore 是处理器需要的对象存储读取能力。
type ObjectStore interface {
	GetObjectBytes(ctx context.Context, objectName string) ([]byte, error)
}

// ChunkIndexer 是处理器需要的向量索引写入能力。
type ChunkIndexer interface {
	BulkIndexChunks(ctx context.Context, chunks []model.EsChunk) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// Processor 驱动单个文档的摄取状态机：
// uploading → processing → ready 或 error。
// 进入 processing 之后的任何失败都在顶层统一转换为 error 状态落库，不自动重试。
type Processor struct {
	extractor       *Extractor
	enricher        MetadataEnricher
	embeddingClient embedding.Client
	objectStore     ObjectStore
	indexer         ChunkIndexer
	docRepo         repository.DocumentRepository
	embeddingModel  string
	ragCfg          config.RAGConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	extractor *Extractor,
	enricher MetadataEnricher,
	embeddingClient embedding.Client,
	objectStore ObjectStore,
	indexer ChunkIndexer,
	docRepo repository.DocumentRepository,
	embeddingModel string,
	ragCfg config.RAGConfig,
) *Processor {
	return &Processor{
		extractor:       extractor,
		enricher:        enricher,
		embeddingClient: embeddingClient,
		objectStore:     objectStore,
		indexer:         indexer,
		docRepo:         docRepo,
		embeddingModel:  embeddingModel,
		ragCfg:          ragCfg,
	}
}

// Process 是文档摄取的主函数。
// 返回非 nil 仅代表状态本身无法落库；业务性失败已记录在文档的 error 状态中。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentProcessingTask) error {
	log.Infof("[Processor] 开始处理文档, DocumentID: %s, Filename: %s, UserID: %s", task.DocumentID, task.Filename, task.UserID)

	if err := p.docRepo.MarkProcessing(task.DocumentID); err != nil {
		log.Errorf("[Processor] 标记文档为 processing 失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		return fmt.Errorf("标记文档为 processing 失败: %w", err)
	}

	if err := p.ingest(ctx, task); err != nil {
		log.Errorf("[Processor] 文档摄取失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		if markErr := p.docRepo.MarkError(task.DocumentID, err.Error()); markErr != nil {
			log.Errorf("[Processor] 标记文档为 error 失败, DocumentID: %s, Error: %v", task.DocumentID, markErr)
			return fmt.Errorf("标记文档为 error 失败: %w", markErr)
		}
		return nil
	}

	p.docRepo.InvalidateReadyCount(ctx, task.UserID)
	log.Infof("[Processor] 文档处理成功完成, DocumentID: %s", task.DocumentID)
	return nil
}

// ingest 执行提取、分块、充实、向量化与持久化的完整序列。
func (p *Processor) ingest(ctx context.Context, task tasks.DocumentProcessingTask) error {
	// 1. 从 MinIO 下载文件
	log.Infof("[Processor] 步骤1: 从MinIO下载文件, Object: %s", task.StoragePath)
	data, err := p.objectStore.GetObjectBytes(ctx, task.StoragePath)
	if err != nil {
		return fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 大小: %d字节", len(data))

	// 2. 提取文本
	log.Info("[Processor] 步骤2: 提取文本内容")
	extracted, err := p.extractor.Extract(ctx, data, task.MimeType, task.Filename)
	if err != nil {
		return fmt.Errorf("提取文本失败: %w", err)
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(extracted.Text))

	// 3. 文本分块
	log.Infof("[Processor] 步骤3: 进行文本分块, chunkSize: %d, chunkOverlap: %d", p.ragCfg.ChunkSize, p.ragCfg.ChunkOverlap)
	chunkTexts := ChunkExtractResult(extracted, p.ragCfg.ChunkSize, p.ragCfg.ChunkOverlap)
	if len(chunkTexts) == 0 {
		return ErrEmptyContent
	}
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunkTexts))

	// 4. 元数据充实（尽力而为, 失败不影响摄取）
	log.Info("[Processor] 步骤4: 提取文档元数据与分块关键词")
	docMetadata := p.enricher.ExtractDocumentMetadata(ctx, extracted.Text, task.Filename)
	keyTerms := p.enricher.ExtractChunkKeyTerms(ctx, chunkTexts)
	log.Info("[Processor] 步骤4: 元数据充实完成")

	// 5. 向量化（失败即摄取失败）
	log.Infof("[Processor] 步骤5: 对 %d 个分块进行向量化", len(chunkTexts))
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, chunkTexts)
	if err != nil {
		return fmt.Errorf("分块向量化失败: %w", err)
	}
	log.Info("[Processor] 步骤5: 向量化完成")

	// 6. 合并文档级元数据与分块关键词, 构建持久化记录
	dbChunks := make([]model.Chunk, 0, len(chunkTexts))
	esChunks := make([]model.EsChunk, 0, len(chunkTexts))
	for i, text := range chunkTexts {
		metadata := model.ChunkMetadata{
			Topic:        docMetadata.Topic,
			DocumentType: docMetadata.DocumentType,
			Language:     docMetadata.Language,
			KeyTerms:     keyTerms[i],
		}
		dbChunks = append(dbChunks, model.Chunk{
			DocumentID: task.DocumentID,
			ChunkIndex: i,
			Content:    text,
			Metadata:   metadata,
		})
		esChunks = append(esChunks, model.EsChunk{
			VectorID:     fmt.Sprintf("%s_%d", task.DocumentID, i),
			DocumentID:   task.DocumentID,
			UserID:       task.UserID,
			ChunkIndex:   i,
			Content:      text,
			Vector:       vectors[i],
			ModelVersion: p.embeddingModel,
			Metadata:     metadata,
		})
	}

	// 7. 持久化。重复执行同一任务时先清理旧记录, 保证分块不累计膨胀
	log.Info("[Processor] 步骤6: 清理旧分块并批量写入数据库与Elasticsearch")
	if err := p.docRepo.DeleteChunksByDocumentID(task.DocumentID); err != nil {
		log.Warnf("[Processor] 清理旧分块记录失败 (document_id=%s): %v", task.DocumentID, err)
	}
	if err := p.indexer.DeleteByDocumentID(ctx, task.DocumentID); err != nil {
		log.Warnf("[Processor] 清理旧索引记录失败 (document_id=%s): %v", task.DocumentID, err)
	}

	if err := p.docRepo.BatchCreateChunks(dbChunks, p.ragCfg.InsertBatch); err != nil {
		return fmt.Errorf("批量保存分块失败: %w", err)
	}
	if err := p.indexer.BulkIndexChunks(ctx, esChunks); err != nil {
		return fmt.Errorf("批量索引分块到 Elasticsearch 失败: %w", err)
	}
	log.Infof("[Processor] 步骤6: 成功写入 %d 个分块", len(dbChunks))

	// 8. 标记就绪
	if err := p.docRepo.MarkReady(task.DocumentID, len(dbChunks)); err != nil {
		return fmt.Errorf("标记文档为 ready 失败: %w", err)
	}
	log.Infof("[Processor] 文档已就绪, DocumentID: %s, chunk_count: %d", task.DocumentID, len(dbChunks))
	return nil
}

// minioObjectStore 把全局 MinIO 客户端适配为 ObjectStore。
type minioObjectStore struct {
	bucket string
}

// NewMinioObjectStore 创建基于全局 MinIO 客户端的 ObjectStore。
func NewMinioObjectStore(bucket string) ObjectStore {
	return &minioObjectStore{bucket: bucket}
}

func (s *minioObjectStore) GetObjectBytes(ctx context.Context, objectName string) ([]byte, error) {
	return storage.GetObjectBytes(ctx, s.bucket, objectName)
}

// esChunkIndexer 把包级 Elasticsearch 操作适配为 ChunkIndexer。
type esChunkIndexer struct {
	indexName string
}

// NewEsChunkIndexer 创建基于全局 Elasticsearch 客户端的 ChunkIndexer。
func NewEsChunkIndexer(indexName string) ChunkIndexer {
	return &esChunkIndexer{indexName: indexName}
}

func (x *esChunkIndexer) BulkIndexChunks(ctx context.Context, chunks []model.EsChunk) error {
	return es.BulkIndexChunks(ctx, x.indexName, chunks)
}

func (x *esChunkIndexer) DeleteByDocumentID(ctx context.Context, documentID string) error {
	return es.DeleteByDocumentID(ctx, x.indexName, documentID)
}
