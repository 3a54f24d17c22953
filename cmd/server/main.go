// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"pii-audit-go/internal/config"
	"pii-audit-go/internal/handler"
	"pii-audit-go/internal/middleware"
	"pii-audit-go/internal/pii"
	"pii-audit-go/internal/pipeline"
	"pii-audit-go/internal/repository"
	"pii-audit-go/internal/service"
	"pii-audit-go/pkg/database"
	"pii-audit-go/pkg/es"
	"pii-audit-go/pkg/kafka"
	"pii-audit-go/pkg/log"
	"pii-audit-go/pkg/ner"
	"pii-audit-go/pkg/storage"
	"pii-audit-go/pkg/token"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. 初始化配置，路径可由 -config 参数或 APP_CONFIG 环境变量指定
	defaultPath := "./configs/config.yaml"
	if p := os.Getenv("APP_CONFIG"); p != "" {
		defaultPath = p
	}
	configPath := flag.String("config", defaultPath, "配置文件路径")
	flag.Parse()
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis，审计表在注册写保护后才会被访问
	database.InitMySQL(cfg.Database.MySQL.DSN, repository.AppendOnlyTables()...)
	if err := repository.AutoMigrate(database.DB); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	redisClient, err := database.InitRedis(cfg.Database.Redis)
	if err != nil {
		// Redis 只承担缓存、重试计数与分布式锁，不可用时降级运行
		log.Warnw("Redis 不可用，降级为无 Redis 模式运行", "error", err)
		redisClient = nil
	}

	// 4. 初始化 Repository
	conversationRepo := repository.NewConversationRepository(database.DB)
	detectionRepo := repository.NewPIIDetectionRepository(database.DB)
	retentionRepo := repository.NewCachedRetentionRepository(repository.NewRetentionRepository(database.DB), redisClient)

	// 5. 可选组件：检索索引、对象存储归档、异步扫描队列
	var indexer pipeline.DetectionIndexer
	var searcher service.DetectionSearcher
	if cfg.Elasticsearch.Enabled {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败 %s", err)
			return
		}
		detectionIndex := es.NewDetectionIndex(es.ESClient, cfg.Elasticsearch.IndexName)
		indexer, searcher = detectionIndex, detectionIndex
	}

	exportOpts := []service.ExportOption{service.WithPreviewLength(cfg.Export.PreviewLength)}
	if cfg.MinIO.Enabled {
		storage.InitMinIO(cfg.MinIO)
		exportOpts = append(exportOpts, service.WithArchiver(storage.NewBundleArchiver(storage.MinioClient, cfg.MinIO)))
	}

	var publisher service.ScanTaskPublisher
	if cfg.Kafka.Enabled {
		kafka.InitProducer(cfg.Kafka)
		publisher = kafka.Publisher{}
	}

	// 6. 初始化检测管道与 Service (依赖注入)
	nerClient := ner.NewClient(cfg.NER)
	riskTable := pii.DefaultRiskTable()
	scanner := pii.NewScanner(pii.NewMerger(pii.NewMatcher(riskTable), nerClient, riskTable))
	processor := pipeline.NewProcessor(scanner, conversationRepo, detectionRepo, indexer, nerClient.ModelName())

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	retentionService := service.NewRetentionService(conversationRepo, retentionRepo, cfg.Retention.DefaultDays)
	auditService := service.NewAuditService(conversationRepo, detectionRepo, scanner, processor, publisher, searcher)
	exportService := service.NewExportService(conversationRepo, detectionRepo, retentionService, exportOpts...)

	// 7. 启动后台任务：Kafka 消费者与保留审计调度
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	if cfg.Kafka.Enabled {
		go kafka.StartConsumer(bgCtx, cfg.Kafka, processor, redisClient)
	}
	scheduler := service.NewRetentionScheduler(retentionService, cfg.Retention.Interval(), cfg.Retention.RunOnStart, redisClient)
	go scheduler.Run(bgCtx)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok", "data": nil})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.RegisterRoutes(r, handler.Services{
		Audit:     auditService,
		Retention: retentionService,
		Export:    exportService,
	}, jwtManager)

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

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者与调度器，再刷新生产者缓冲
	cancelBg()
	if err := kafka.CloseProducer(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
