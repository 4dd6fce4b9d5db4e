package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/hugofs/tasktalk/internal/config"
	"github.com/hugofs/tasktalk/internal/devserver"
	"github.com/hugofs/tasktalk/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	srv, err := devserver.New(devserver.Config{
		JWTSecret:     cfg.Dev.JWTSecret,
		OpenAIAPIKey:  cfg.Dev.OpenAIAPIKey,
		OpenAIBaseURL: cfg.Dev.OpenAIBaseURL,
		OpenAIModel:   cfg.Dev.OpenAIModel,
	})
	if err != nil {
		logger.L.Error("failed to create dev server", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%s", cfg.Dev.Host, cfg.Dev.Port)
	logger.L.Info("starting dev server", "address", addr)
	if err := router.Run(addr); err != nil {
		logger.L.Error("server exited", "error", err)
		os.Exit(1)
	}
}
