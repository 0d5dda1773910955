package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/config"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/cache"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/events"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/httpapi/handlers"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/httpapi/middleware"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/store"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/ws"
)

func initConfig() (*config.Config, error) {
	cfg := &config.Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	gormDB, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := store.AutoMigrate(gormDB); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatalf("Failed to get sql.DB: %v", err)
	}
	defer sqlDB.Close()

	// === Kafka（跨实例会话事件扇出）===
	instanceID := uuid.NewString()
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	dispatcher := events.NewDispatcher(producer, cfg.Kafka.Topic, instanceID, events.DispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})

	presence := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presence)
	manager := ws.NewManager(hub, dispatcher)

	revisions := store.NewRevisionStore(sqlDB)
	records := store.NewRecordStore(gormDB, revisions)
	users := store.NewUserStore(gormDB)

	recordHandlers := handlers.NewRecordHandlers(records, manager, dispatcher)
	authHandlers := handlers.NewAuthHandlers(users)

	// 消费组：把别的实例上的进出重播到本地房间
	group, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.Group, sarama.NewConfig())
	if err != nil {
		log.Fatalf("Failed to create kafka consumer group: %v", err)
	}
	defer group.Close()
	consumer := events.NewConsumer(group, cfg.Kafka.Topic, instanceID, manager, presence)
	go func() {
		if err := consumer.Run(context.Background()); err != nil {
			log.Printf("events consumer stopped: %v", err)
		}
	}()

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	v1 := r.Group("/v1")
	v1.POST("/auth/register", authHandlers.Register)
	v1.POST("/auth/login", authHandlers.Login)

	// beacon 不鉴权：sendBeacon 带不了 Header
	v1.POST("/edit-sessions/leave", recordHandlers.LeaveSession)

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware())
	authed.GET("/records/:type/:id", recordHandlers.GetRecord)
	authed.POST("/records/:type", recordHandlers.CreateRecord)
	authed.PUT("/records/:type/:id", recordHandlers.UpdateRecord)
	authed.POST("/conflict-check", recordHandlers.ConflictCheck)
	authed.GET("/edit-sessions/ws", manager.WebSocketConnect)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	_ = r.Run(fmt.Sprintf(":%d", cfg.Running.Port))
}
