package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"cleanroute/config"
	"cleanroute/devstate"
	"cleanroute/engine"
	"cleanroute/messaging"
	"cleanroute/store"
	"cleanroute/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "cleanroute.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("cleanroute", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("cleanroute: database open (%s)", cfg.Database.Driver)

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("cleanroute: redis not available (%v), running without cache", err)
	} else {
		log.Printf("cleanroute: redis connected (%s)", cfg.Redis.Address)
	}
	cancel()
	defer redisClient.Close()

	// Device state manager
	redisStore := devstate.NewRedisStore(redisClient)
	devState := devstate.NewManager(db, redisStore)
	if err := devState.SyncRedisFromSQL(); err != nil {
		log.Printf("cleanroute: redis sync from SQL: %v", err)
	}

	// Messaging client
	msgClient := messaging.NewClient(&cfg.Messaging)
	if err := msgClient.Connect(); err != nil {
		log.Printf("cleanroute: messaging connect failed (%v)", err)
	} else {
		log.Printf("cleanroute: messaging connected (%s)", cfg.Messaging.Backend)
	}
	defer msgClient.Close()

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		DevState:   devState,
		MsgClient:  msgClient,
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer eng.Stop()

	// Device uplink consumer
	consumer := messaging.NewConsumer(msgClient, cfg.Messaging.TopicPrefix, eng)
	if err := consumer.Start(); err != nil {
		log.Printf("cleanroute: uplink subscribe failed: %v", err)
	} else {
		log.Printf("cleanroute: listening for device uplinks on %s", messaging.UplinkWildcard(cfg.Messaging.TopicPrefix))
	}

	// Web server
	handler := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Printf("cleanroute: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("cleanroute: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("cleanroute: shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("cleanroute: web server shutdown: %v", err)
	}
}
