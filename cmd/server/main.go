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

	"github.com/gin-gonic/gin"

	"zerotrace-go/internal/config"
	"zerotrace-go/internal/handler"
	"zerotrace-go/internal/middleware"
	"zerotrace-go/internal/repository"
	"zerotrace-go/internal/service"
	"zerotrace-go/pkg/database"
	"zerotrace-go/pkg/kafka"
	"zerotrace-go/pkg/llm"
	"zerotrace-go/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化 LLM 客户端。凭证缺失时按 missing_key_policy 处理：
	// fatal 直接终止，demo 进入演示模式。
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Fatal("LLM 客户端初始化失败，请配置 ZEROTRACE_LLM_API_KEY 或启用 demo 策略", err)
	}
	if llmClient.Demo() {
		log.Warnf("未配置模型凭证，以演示模式启动，不会调用远端 API")
	}

	// 4. 初始化会话存储：配置了 Redis 时使用 Redis（TTL 承担过期），
	// 否则使用进程内存储并启动周期清扫。
	timeout := time.Duration(cfg.Chat.SessionTimeoutMinutes) * time.Minute
	sweepInterval := time.Duration(cfg.Chat.SweepIntervalMinutes) * time.Minute

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var store repository.SessionStore
	if cfg.Redis.Addr != "" {
		database.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		store = repository.NewRedisSessionStore(database.RDB, timeout, cfg.Chat.HistoryLimit)
		log.Info("会话存储使用 Redis")
	} else {
		memStore := repository.NewMemorySessionStore(timeout, cfg.Chat.HistoryLimit)
		go memStore.StartSweeper(rootCtx, sweepInterval)
		store = memStore
		log.Info("会话存储使用进程内内存")
	}

	// 5. 初始化 Kafka 生产者（可选）
	kafka.InitProducer(cfg.Kafka)

	// 6. 初始化 Service（依赖注入）
	knowledgeService := service.NewKnowledgeService(cfg.Knowledge.Path)
	promptService := service.NewPromptService(knowledgeService)
	chatService := service.NewChatService(store, promptService, knowledgeService, llmClient, service.ChatOptions{
		StreamingEnabled: cfg.Features.Streaming,
		RAGEnabled:       cfg.Features.RAG,
		StreamInterval:   time.Duration(cfg.Chat.StreamIntervalMs) * time.Millisecond,
		FallbackMessage:  cfg.Chat.FallbackMessage,
		Generation: llm.GenerationParams{
			MaxTokens:   cfg.LLM.Generation.MaxTokens,
			Temperature: cfg.LLM.Generation.Temperature,
			TopP:        cfg.LLM.Generation.TopP,
			TopK:        cfg.LLM.Generation.TopK,
		},
	})

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	chatHandler := handler.NewChatHandler(chatService)
	ragHandler := handler.NewRAGHandler(chatService)
	healthHandler := handler.NewHealthHandler(llmClient)

	r.GET("/health", healthHandler.Health)
	api := r.Group("/api")
	{
		api.POST("/chat", chatHandler.Chat)
		api.GET("/chat/stream", chatHandler.Stream)
		api.POST("/rag", ragHandler.Query)
	}
	r.GET("/ws/chat", chatHandler.ServeWS)

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
	cancelRoot() // 停止会话清扫

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
