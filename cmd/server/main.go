// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"company-qa-go/internal/cache"
	"company-qa-go/internal/config"
	"company-qa-go/internal/handler"
	"company-qa-go/internal/middleware"
	"company-qa-go/internal/repository"
	"company-qa-go/internal/service"
	"company-qa-go/pkg/database"
	"company-qa-go/pkg/embedding"
	"company-qa-go/pkg/es"
	"company-qa-go/pkg/kafka"
	"company-qa-go/pkg/llm"
	"company-qa-go/pkg/log"
	"company-qa-go/pkg/storage"
	"company-qa-go/pkg/token"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "company-qa",
		Short: "Company Q&A retrieval-augmented chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "配置文件路径")
	root.AddCommand(newTokenCmd(&configPath), newReindexCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup 加载配置并初始化日志。
func setup(configPath string) config.Config {
	config.Init(configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg
}

// components 是 serve 与 reindex 共用的后端依赖。
type components struct {
	cache        *cache.ResponseCache
	embedding    embedding.Client
	vectorIndex  *es.VectorIndex
	syncState    repository.SyncStateRepository
	indexService service.IndexService
}

func initComponents(cfg config.Config) (*components, error) {
	if err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
		return nil, err
	}
	if err := storage.InitMinIO(cfg.MinIO); err != nil {
		return nil, err
	}
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		return nil, fmt.Errorf("es 初始化失败: %w", err)
	}

	c := &components{
		cache:       cache.New(cfg.Cache.MaxSize, cfg.Cache.TTL),
		embedding:   embedding.NewClient(cfg.Embedding),
		vectorIndex: es.NewVectorIndex(es.ESClient, cfg.Elasticsearch.IndexName),
		syncState:   repository.NewSyncStateRepository(database.RDB),
	}
	c.indexService = service.NewIndexService(
		storage.NewSheetSource(storage.MinioClient, cfg.MinIO.BucketName),
		c.embedding,
		c.vectorIndex,
		c.cache,
		c.syncState,
		cfg.Retrieval.Namespace,
	)
	return c, nil
}

func runServer(configPath string) error {
	cfg := setup(configPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	if err := database.InitMySQL(cfg.Database.MySQL.DSN); err != nil {
		return err
	}
	if err := repository.AutoMigrate(database.DB); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	comp, err := initComponents(cfg)
	if err != nil {
		return err
	}

	// 问答引擎
	retriever := service.NewRetriever(comp.embedding, comp.vectorIndex, service.RetrieverConfig{
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		Namespace:           cfg.Retrieval.Namespace,
	})
	chatService := service.NewChatService(
		retriever,
		service.NewPromptBuilder(cfg.LLM.Prompt.System, cfg.LLM.Prompt.SupportContact),
		llm.NewClient(cfg.LLM),
		comp.cache,
		service.ChatServiceConfig{Model: cfg.LLM.Model, Generation: llm.ParamsFromConfig(cfg.LLM.Generation)},
	)
	interactionService := service.NewInteractionService(
		repository.NewInteractionRepository(database.DB),
		cfg.Analytics.LowConfidenceThreshold,
	)

	// 重建任务队列
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		kafka.NewConsumer(cfg.Kafka, comp.indexService, comp.syncState).Run(consumerCtx)
	}()

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	registerRoutes(r, routeDeps{
		chat:        handler.NewChatHandler(chatService, interactionService),
		admin:       handler.NewAdminHandler(comp.indexService, producer, comp.cache, interactionService, cfg.MinIO.SheetObject),
		webhook:     handler.NewWebhookHandler(producer, cfg.Webhook.Secret, cfg.MinIO.SheetObject),
		jwtManager:  jwtManager,
		environment: cfg.Server.Environment,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	stopConsumer()
	<-consumerDone

	log.Info("服务已优雅关闭")
	return nil
}

type routeDeps struct {
	chat        *handler.ChatHandler
	admin       *handler.AdminHandler
	webhook     *handler.WebhookHandler
	jwtManager  *token.JWTManager
	environment string
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	api := r.Group("/api")
	{
		api.GET("/health", handler.Health(d.environment))

		chat := api.Group("/chat")
		{
			chat.POST("", d.chat.Chat)
			chat.POST("/stream", d.chat.ChatStream)
			chat.GET("/ws", d.chat.WebSocket)
		}

		api.POST("/webhooks/sheets-update", d.webhook.SheetsUpdate)

		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuth(d.jwtManager))
		{
			admin.POST("/reindex", d.admin.Reindex)
			admin.POST("/cache/clear", d.admin.ClearCache)
			admin.POST("/sync", d.admin.Sync)
			admin.GET("/conversations/:session_id", d.admin.Conversation)
		}
	}
}
