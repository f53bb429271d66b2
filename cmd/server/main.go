// Package main is the entry point for the stack game backend.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bbmw0/stack-server/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		var err error
		port, err = strconv.Atoi(portStr)
		if err != nil {
			logger.Error("invalid PORT value", slog.String("value", portStr))
			os.Exit(1)
		}
	}

	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", port)
	}

	dbPath := "data/stack.db"
	if envDB := os.Getenv("DB_PATH"); envDB != "" {
		dbPath = envDB
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", filepath.Dir(dbPath)),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	staticDir := os.Getenv("STATIC_DIR")
	if staticDir == "" {
		staticDir, _ = filepath.Abs("web/static")
	}

	// JWT_SECRET must be a long random string, e.g.:
	//   JWT_SECRET=$(openssl rand -hex 32)
	jwtSecret := os.Getenv("JWT_SECRET")

	cfg := server.Config{
		Port:      port,
		BaseURL:   baseURL,
		DBPath:    dbPath,
		StaticDir: staticDir,
		JWTSecret: jwtSecret,

		GoogleClientID:       os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:   os.Getenv("GOOGLE_CLIENT_SECRET"),
		LinkedInClientID:     os.Getenv("LINKEDIN_CLIENT_ID"),
		LinkedInClientSecret: os.Getenv("LINKEDIN_CLIENT_SECRET"),
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
