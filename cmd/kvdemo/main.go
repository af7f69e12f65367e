package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lsmkv/internal/config"
	"lsmkv/pkg/engine"
	"lsmkv/pkg/kverrors"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := os.Getenv("LSMKV_CONFIG")
	if configPath == "" {
		configPath = "kvdemo.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Println("failed to load config:", err)
		os.Exit(1)
	}
	config.NewLogger(cfg.Logger)

	e, err := engine.Open(engine.Options{
		BaseDir:             cfg.Storage.BaseDir,
		MemLimit:            cfg.Storage.MemLimit,
		CompactionThreshold: cfg.Storage.CompactionThreshold,
		MaxRecordBytes:      cfg.Storage.MaxRecordBytes,
	})
	if err != nil {
		slog.Error("failed to open engine", "err", err)
		os.Exit(1)
	}
	defer e.Close()

	run(e)

	<-ctx.Done()
}

func run(e *engine.Engine) {
	put(e, "user:1", "Alice")
	put(e, "user:2", "Bob")
	get(e, "user:1")
	get(e, "user:2")

	put(e, "user:1", "Alice Updated")
	get(e, "user:1")

	del(e, "user:2")
	get(e, "user:2")
}

func put(e *engine.Engine, key, value string) {
	if err := e.Put([]byte(key), []byte(value)); err != nil {
		fmt.Printf("PUT    key=%s value=%s -> error: %v\n", key, value, err)
		return
	}
	fmt.Printf("PUT    key=%s value=%s -> OK\n", key, value)
}

func get(e *engine.Engine, key string) {
	v, err := e.Get([]byte(key))
	if errors.Is(err, kverrors.ErrKeyNotFound) {
		fmt.Printf("GET    key=%s -> KEY_NOT_FOUND\n", key)
		return
	}
	if err != nil {
		fmt.Printf("GET    key=%s -> error: %v\n", key, err)
		return
	}
	fmt.Printf("GET    key=%s -> %s\n", key, v)
}

func del(e *engine.Engine, key string) {
	if err := e.Delete([]byte(key)); err != nil {
		fmt.Printf("DELETE key=%s -> %v\n", key, err)
		return
	}
	fmt.Printf("DELETE key=%s -> OK\n", key)
}
