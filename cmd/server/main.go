package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"potluck/internal/auth"
	"potluck/internal/config"
	"potluck/internal/database"
	"potluck/internal/handler"
	"potluck/internal/hub"
	"potluck/internal/messaging"
	"potluck/internal/notify"
	"potluck/internal/store"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  .env file not found, using default values: %v", err)
	}

	// 環境変数を読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// データベース接続を初期化
	db, err := database.Init(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer db.Close()

	st := store.New(db)
	st.CommitGrace = cfg.CommitGrace
	reg := hub.NewRegistry()

	var (
		notifier hub.Notifier
		presence notify.Presence = notify.Local{Conns: reg}
	)
	if cfg.RedisAddr != "" {
		rdb, err := notify.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()

		notifier, presence = rdb, rdb
		go func() {
			// Wake-ups published by other instances.
			if err := rdb.Subscribe(ctx, func(userIDs []int64) { reg.Wake(userIDs...) }); err != nil && ctx.Err() == nil {
				log.Printf("❌ Redis subscription ended: %v", err)
			}
		}()
	}

	dispatcher := hub.NewDispatcher(reg, notifier)
	dispatcher.WakeDelay = cfg.CommitGrace
	svc := messaging.NewService(st, dispatcher, presence)

	// ハンドラー初期化
	h := handler.New(cfg, svc, reg, st, auth.NewJWT(cfg.JWTSecret))
	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("========================================")
	fmt.Println("  Potluck Chat Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	fmt.Printf("  Event stream: http://localhost:%s/events\n", cfg.ServerPort)
	if cfg.DBDriver == "sqlite3" {
		fmt.Printf("  Database: sqlite3 %s\n", cfg.DBPath)
	} else if cfg.DBName != "" {
		fmt.Printf("  Database: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	if cfg.RedisAddr != "" {
		fmt.Printf("  Redis: %s\n", cfg.RedisAddr)
	}
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Println("========================================")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Println("🚀 Server started successfully")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("❌ %v", err)
	}
}
