package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"screenshot_service/config"
	"screenshot_service/controllers"
	"screenshot_service/pkg/browser"
	"screenshot_service/pkg/capture"
	"screenshot_service/pkg/mongodb"
	"screenshot_service/pkg/ratelimit"
	"screenshot_service/pkg/redis"
	"screenshot_service/pkg/semaphore"
	"screenshot_service/pkg/useragent"
	"screenshot_service/pkg/validator"
)

func main() {
	// 初始化配置
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}
	cfg := &config.GlobalConfig

	// 创建并初始化日志管理器
	logger := controllers.NewLoggerManager()
	defer logger.Close() // 确保程序退出时关闭日志文件
	logger.SetLogLevel(cfg.Server.LogLevel)
	if cfg.Server.LogFile != "" {
		if err := logger.SetLogFile(cfg.Server.LogFile); err != nil {
			log.Fatalf("设置日志文件失败: %v", err)
		}
	}

	// 可选的Redis客户端，用于分布式限流
	var redisClient *redis.RedisClient
	if cfg.RateLimit.RedisEnabled {
		client, err := redis.NewRedisClient(&redis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  5 * time.Second,
		})
		if err != nil {
			// Redis不可用时降级为仅本地限流
			logger.Logf("WARN", "Redis连接失败，分布式限流已禁用: %v", err)
		} else {
			redisClient = client
			defer redisClient.Close()
		}
	}

	// 可选的MongoDB客户端，用于UA池
	var mongoClient *mongodb.MongoClient
	if cfg.Mongo.Enabled {
		client, err := mongodb.NewMongoClient(&mongodb.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			logger.Logf("WARN", "MongoDB连接失败，使用默认UA: %v", err)
		} else {
			mongoClient = client
			defer mongoClient.Close()
		}
	}

	// 创建限流控制器
	rlConfig := ratelimit.DefaultConfig()
	rlConfig.WindowSize = time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	rlConfig.WindowLimit = cfg.RateLimit.WindowLimit
	rlConfig.SweepInterval = time.Duration(cfg.RateLimit.SweepSeconds) * time.Second
	rlConfig.RedisWindowCap = cfg.RateLimit.RedisWindowCap
	limiter := ratelimit.NewRateLimitController(redisClient, rlConfig)
	defer limiter.Close()

	// 创建并发闸门
	gateConfig := semaphore.DefaultConfig()
	gateConfig.MaxConcurrent = cfg.Capture.MaxConcurrent
	gateConfig.QueueTimeout = time.Duration(cfg.Capture.QueueTimeoutMs) * time.Millisecond
	gate := semaphore.NewSemaphoreController(gateConfig)

	// 创建目标校验器
	v := validator.NewValidatorController(validator.DefaultConfig())

	// 创建浏览器生命周期控制器
	browserConfig := browser.DefaultConfig()
	browserConfig.ChromePath = cfg.Browser.ChromePath
	browserConfig.MaxScreenshots = cfg.Browser.MaxScreenshots
	browserConfig.MaxAge = time.Duration(cfg.Browser.MaxAgeMinutes) * time.Minute
	browserCtrl := browser.NewBrowserController(browserConfig)
	defer browserCtrl.Close()

	// 创建UA控制器
	uaConfig := useragent.DefaultConfig()
	uaConfig.Database = cfg.Mongo.Database
	uaConfig.Collection = cfg.Mongo.Collection
	uaCtrl := useragent.NewUserAgentController(mongoClient, uaConfig)

	// 创建截图编排器，重定向复查直接挂到校验器上
	captureConfig := capture.DefaultConfig()
	captureConfig.NavigateTimeout = time.Duration(cfg.Capture.NavigateTimeoutS) * time.Second
	captureConfig.MaxHeight = cfg.Capture.MaxHeight
	captureConfig.MaxOutputBytes = cfg.Capture.MaxOutputBytes
	orchestrator := capture.NewCaptureController(captureConfig, browserCtrl, uaCtrl, v.CheckRedirect)

	// 创建HTTP服务控制器并启动服务
	server := controllers.NewServerController(logger, v, limiter, gate, orchestrator, browserCtrl)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Logf("INFO", "截图服务启动，监听 %s", addr)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("HTTP服务启动失败: %v", err)
	}
}
