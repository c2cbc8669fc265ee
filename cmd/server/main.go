// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zhiwen-go/internal/config"
	"zhiwen-go/internal/handler"
	"zhiwen-go/internal/middleware"
	"zhiwen-go/internal/model"
	"zhiwen-go/internal/pipeline"
	"zhiwen-go/internal/repository"
	"zhiwen-go/internal/service"
	"zhiwen-go/pkg/database"
	"zhiwen-go/pkg/docling"
	"zhiwen-go/pkg/embedding"
	"zhiwen-go/pkg/es"
	"zhiwen-go/pkg/kafka"
	"zhiwen-go/pkg/llm"
	"zhiwen-go/pkg/log"
	"zhiwen-go/pkg/rerank"
	"zhiwen-go/pkg/storage"
	"zhiwen-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、缓存与外部存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Fatalf("es 初始化失败: %v", err)
	}
	kafka.InitProducer(cfg.Kafka)

	if err := database.DB.AutoMigrate(
		&model.Document{},
		&model.Chunk{},
		&model.Thread{},
		&model.Message{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB, database.RDB)
	threadRepo := repository.NewThreadRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.Auth.JWTSecret)
	embeddingClient := embedding.NewClient(cfg.Embedding, cfg.RAG.EmbeddingBatch)
	llmClient := llm.NewClient(cfg.LLM)
	rerankClient := rerank.NewClient(cfg.Rerank)
	indexer := pipeline.NewEsChunkIndexer(cfg.Elasticsearch.IndexName)

	metadataService := service.NewMetadataService(llmClient, cfg.RAG.KeyTermsBatch, cfg.RAG.MetadataSampleLen)
	searchService := service.NewSearchService(embeddingClient, es.ESClient, rerankClient, cfg.Elasticsearch.IndexName, cfg.RAG)
	documentService := service.NewDocumentService(docRepo, indexer, cfg.MinIO.BucketName)
	threadService := service.NewThreadService(threadRepo)
	chatService := service.NewChatService(llmClient, searchService, docRepo, threadRepo, cfg.RAG)

	// 6. 初始化摄取管道 (Processor)
	// docling 转换器为全进程惰性单例, 由管道持有句柄
	converter := docling.GetConverter(cfg.Docling)
	processor := pipeline.NewProcessor(
		pipeline.NewExtractor(converter),
		metadataService,
		embeddingClient,
		pipeline.NewMinioObjectStore(cfg.MinIO.BucketName),
		indexer,
		docRepo,
		cfg.Embedding.Model,
		cfg.RAG,
	)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	r.GET("/health", handler.Health)

	documentHandler := handler.NewDocumentHandler(documentService)
	threadHandler := handler.NewThreadHandler(threadService)
	chatHandler := handler.NewChatHandler(chatService, jwtManager)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		documents := apiV1.Group("/documents")
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.DELETE("/:id", documentHandler.Delete)
		}

		threads := apiV1.Group("/threads")
		{
			threads.POST("", threadHandler.Create)
			threads.GET("", threadHandler.List)
			threads.PATCH("/:id", threadHandler.Rename)
			threads.DELETE("/:id", threadHandler.Delete)
			threads.GET("/:id/messages", threadHandler.ListMessages)
		}

		apiV1.POST("/chat", chatHandler.Chat)
	}

	// Chat 路由 (WebSocket, token 经 URL 传递)
	r.GET("/ws/chat/:token", chatHandler.HandleWS)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
