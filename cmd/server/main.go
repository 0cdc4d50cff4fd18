// Package main 是记录服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"

	"kazakh-hub/internal/config"
	"kazakh-hub/internal/handler"
	"kazakh-hub/internal/model"
	"kazakh-hub/internal/pipeline"
	"kazakh-hub/internal/realtime"
	"kazakh-hub/internal/repository"
	"kazakh-hub/internal/service"
	"kazakh-hub/pkg/database"
	"kazakh-hub/pkg/es"
	"kazakh-hub/pkg/kafka"
	"kazakh-hub/pkg/log"
	"kazakh-hub/pkg/storage"
	"kazakh-hub/pkg/token"
)

func main() {
	configPath := flag.StringP("config", "c", "./configs/config.yaml", "配置文件路径")
	mintToken := flag.String("mint-token", "", "为指定作者签发一个访问 token 并退出")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	if *mintToken != "" {
		t, err := jwtManager.GenerateToken(*mintToken)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(t)
		return
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化数据库、Redis、对象存储和搜索索引
	database.InitMySQL(cfg.Database.MySQL.DSN, &model.CodeRecord{})
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	objectStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("对象存储初始化失败", err)
	}
	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		log.Fatal("es 初始化失败", err)
	}
	if err := esClient.EnsureIndex(ctx); err != nil {
		log.Fatal("es 索引初始化失败", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}()

	// 4. 初始化 Repository 和 Service
	codeRepo := repository.NewCodeRepository(database.DB)
	idemStore := repository.NewIdempotencyStore(database.RDB)
	codeService := service.NewCodeService(codeRepo, idemStore, objectStore, producer, cfg.Records)
	searchService := service.NewSearchService(esClient)
	hub := realtime.NewHub()

	// 5. 启动后台索引消费者
	indexer := pipeline.NewIndexer(codeRepo, esClient)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		kafka.StartConsumer(ctx, cfg.Kafka, indexer, kafka.RedisAttempts{RDB: database.RDB, TTL: 24 * time.Hour})
	}()

	// 6. 注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(jwtManager, codeService, searchService, hub)

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

	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	<-consumerDone
	log.Info("服务已优雅关闭")
}
