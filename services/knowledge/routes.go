// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
)

// RegisterRoutes registers all knowledge graph routes with the router.
//
// Description:
//
//	Registers all /v1/kg/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Endpoints:
//
//	POST   /v1/kg/graphs                - Build a graph
//	GET    /v1/kg/graphs                - List graph summaries
//	GET    /v1/kg/graphs/:id            - Get a graph
//	DELETE /v1/kg/graphs/:id            - Delete a graph
//	POST   /v1/kg/graphs/:id/query      - Answer a question
//	POST   /v1/kg/graphs/:id/infer      - Run inference rules
//	GET    /v1/kg/graphs/:id/export     - Export as Cypher or JSON
//	POST   /v1/kg/graphs/:id/publish    - Send Cypher to export sinks
//	POST   /v1/kg/graphs/:id/paths      - Shortest path between entities
//	GET    /v1/kg/graphs/:id/entities   - Fuzzy entity lookup by label
//	POST   /v1/kg/entities/:id/expand   - Entity neighborhood
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	kg := rg.Group("/kg")
	{
		graphs := kg.Group("/graphs")
		graphs.POST("", handlers.HandleBuild)
		graphs.GET("", handlers.HandleList)
		graphs.GET("/:id", handlers.HandleGet)
		graphs.DELETE("/:id", handlers.HandleDelete)
		graphs.POST("/:id/query", handlers.HandleQuery)
		graphs.POST("/:id/infer", handlers.HandleInfer)
		graphs.GET("/:id/export", handlers.HandleExport)
		graphs.POST("/:id/publish", handlers.HandlePublish)
		graphs.POST("/:id/paths", handlers.HandlePath)
		graphs.GET("/:id/entities", handlers.HandleFindEntities)

		kg.POST("/entities/:id/expand", handlers.HandleExpand)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// Logger is the base of the request-scoped loggers.
	Logger *slog.Logger

	// Metrics records HTTP metrics. Nil disables them.
	Metrics *telemetry.Metrics
}

// NewRouter returns a gin engine serving handlers with tracing, request
// logging and metrics middleware, the health probes, and /metrics when the
// Prometheus exporter is active.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aleutian-kg"
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		telemetry.RequestLogger(cfg.Logger),
		telemetry.MetricsMiddleware(cfg.Metrics),
	)

	router.GET("/health", handlers.HandleHealth)
	router.GET("/ready", handlers.HandleReady)
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}
