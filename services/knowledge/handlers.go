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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianKG/services/knowledge/builder"
	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
	"github.com/AleutianAI/AleutianKG/services/knowledge/query"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the stable error code.
	Code string `json:"code,omitempty"`
}

// BuildResponse is returned by POST /v1/kg/graphs.
type BuildResponse struct {
	Summary model.Summary         `json:"summary"`
	Graph   *model.KnowledgeGraph `json:"graph"`
}

// ListResponse is returned by GET /v1/kg/graphs.
type ListResponse struct {
	Graphs []model.Summary `json:"graphs"`
}

// InferRequest is the optional body of POST /v1/kg/graphs/:id/infer.
type InferRequest struct {
	Limit int `json:"limit,omitempty" binding:"gte=0"`
}

// InferResponse lists the relationships added by inference.
type InferResponse struct {
	GraphID string               `json:"graph_id"`
	Added   []model.Relationship `json:"added"`
}

// PathRequest is the body of POST /v1/kg/graphs/:id/paths.
type PathRequest struct {
	From    string `json:"from" binding:"required"`
	To      string `json:"to" binding:"required"`
	MaxHops int    `json:"max_hops,omitempty" binding:"gte=0,lte=10"`
}

// PathResponse holds the path found, if any.
type PathResponse struct {
	Path  query.Path `json:"path"`
	Found bool       `json:"found"`
	Hops  int        `json:"hops"`
}

// EntitiesResponse is returned by GET /v1/kg/graphs/:id/entities.
type EntitiesResponse struct {
	Entities []EntityMatch `json:"entities"`
}

// HealthResponse is returned by the health and readiness probes.
type HealthResponse struct {
	Status     string `json:"status"`
	GraphCount int    `json:"graph_count"`
}

// Handlers contains the HTTP handlers for the knowledge graph service.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	svc   *Service
	ready func(ctx context.Context) error
}

// NewHandlers creates handlers for svc. ready, if non-nil, backs
// GET /ready; a non-nil error reports the service as not ready.
func NewHandlers(svc *Service, ready func(ctx context.Context) error) *Handlers {
	return &Handlers{svc: svc, ready: ready}
}

// HandleBuild handles POST /v1/kg/graphs.
//
// Response:
//
//	201 Created: BuildResponse
//	400 Bad Request: invalid body, unknown types, negative limits
//	422 Unprocessable Entity: a requested document could not be resolved
//	500 Internal Server Error: build failure
func (h *Handlers) HandleBuild(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleBuild")

	var req builder.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.WarnContext(c.Request.Context(), "Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error(), Code: CodeInvalidRequest})
		return
	}

	g, err := h.svc.Build(c.Request.Context(), req)
	if err != nil {
		writeError(c, logger, err, CodeBuildFailed)
		return
	}
	c.JSON(http.StatusCreated, BuildResponse{Summary: g.Summarize(), Graph: g})
}

// HandleList handles GET /v1/kg/graphs.
func (h *Handlers) HandleList(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleList")
	graphs, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, logger, err, CodeInternal)
		return
	}
	if graphs == nil {
		graphs = []model.Summary{}
	}
	c.JSON(http.StatusOK, ListResponse{Graphs: graphs})
}

// HandleGet handles GET /v1/kg/graphs/:id.
func (h *Handlers) HandleGet(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleGet")
	g, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err, CodeInternal)
		return
	}
	c.JSON(http.StatusOK, g)
}

// HandleDelete handles DELETE /v1/kg/graphs/:id.
//
// Response:
//
//	204 No Content
//	404 Not Found: GRAPH_NOT_FOUND
func (h *Handlers) HandleDelete(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleDelete")
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, logger, err, CodeInternal)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleQuery handles POST /v1/kg/graphs/:id/query. The graph id in the
// path overrides any id in the body.
func (h *Handlers) HandleQuery(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleQuery")

	var req query.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.WarnContext(c.Request.Context(), "Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error(), Code: CodeInvalidRequest})
		return
	}
	req.GraphID = c.Param("id")

	res, err := h.svc.Query(c.Request.Context(), req)
	if err != nil {
		writeError(c, logger, err, CodeQueryFailed)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleInfer handles POST /v1/kg/graphs/:id/infer. The body is optional.
func (h *Handlers) HandleInfer(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleInfer")

	var req InferRequest
	if !bindOptionalJSON(c, logger, &req) {
		return
	}
	graphID := c.Param("id")
	added, err := h.svc.Infer(c.Request.Context(), graphID, req.Limit)
	if err != nil {
		writeError(c, logger, err, CodeInternal)
		return
	}
	if added == nil {
		added = []model.Relationship{}
	}
	c.JSON(http.StatusOK, InferResponse{GraphID: graphID, Added: added})
}

// HandleExport handles GET /v1/kg/graphs/:id/export.
//
// Query Parameters:
//
//	format             - "cypher" (default) or "json"
//	include_properties - "true" to emit entity and relationship properties
func (h *Handlers) HandleExport(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleExport")

	format := c.DefaultQuery("format", FormatCypher)
	includeProps, err := boolQuery(c, "include_properties")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}
	out, err := h.svc.Export(c.Request.Context(), c.Param("id"), format, includeProps)
	if err != nil {
		writeError(c, logger, err, CodeExportFailed)
		return
	}
	contentType := "text/plain; charset=utf-8"
	if format == FormatJSON {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(http.StatusOK, contentType, out)
}

// HandlePublish handles POST /v1/kg/graphs/:id/publish, sending the
// graph to every configured export sink.
func (h *Handlers) HandlePublish(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandlePublish")

	includeProps, err := boolQuery(c, "include_properties")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}
	if err := h.svc.Publish(c.Request.Context(), c.Param("id"), includeProps); err != nil {
		writeError(c, logger, err, CodeExportFailed)
		return
	}
	c.Status(http.StatusAccepted)
}

// HandlePath handles POST /v1/kg/graphs/:id/paths.
func (h *Handlers) HandlePath(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandlePath")

	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.WarnContext(c.Request.Context(), "Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error(), Code: CodeInvalidRequest})
		return
	}
	path, err := h.svc.FindPath(c.Request.Context(), c.Param("id"), req.From, req.To, req.MaxHops)
	if err != nil {
		writeError(c, logger, err, CodeQueryFailed)
		return
	}
	c.JSON(http.StatusOK, PathResponse{Path: path, Found: path != nil, Hops: path.Hops()})
}

// HandleFindEntities handles GET /v1/kg/graphs/:id/entities?label=...
func (h *Handlers) HandleFindEntities(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleFindEntities")

	maxDistance := 0
	if raw := c.Query("max_distance"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "max_distance must be a non-negative integer", Code: CodeInvalidRequest})
			return
		}
		maxDistance = n
	}
	matches, err := h.svc.FindEntities(c.Request.Context(), c.Param("id"), c.Query("label"), maxDistance)
	if err != nil {
		writeError(c, logger, err, CodeQueryFailed)
		return
	}
	if matches == nil {
		matches = []EntityMatch{}
	}
	c.JSON(http.StatusOK, EntitiesResponse{Entities: matches})
}

// HandleExpand handles POST /v1/kg/entities/:id/expand. The body is
// optional; the entity id comes from the path.
func (h *Handlers) HandleExpand(c *gin.Context) {
	logger := telemetry.Logger(c.Request.Context()).With("handler", "HandleExpand")

	var req query.ExpandRequest
	if !bindOptionalJSON(c, logger, &req) {
		return
	}
	req.EntityID = c.Param("id")

	res, err := h.svc.Expand(c.Request.Context(), req)
	if err != nil {
		writeError(c, logger, err, CodeQueryFailed)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", GraphCount: h.svc.GraphCount()})
}

// HandleReady handles GET /ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "NOT_READY"})
			return
		}
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ready", GraphCount: h.svc.GraphCount()})
}

// bindOptionalJSON binds a body if one was sent. It writes the 400
// response and returns false on a malformed body.
func bindOptionalJSON(c *gin.Context, logger *slog.Logger, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		logger.WarnContext(c.Request.Context(), "Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error(), Code: CodeInvalidRequest})
		return false
	}
	return true
}

func boolQuery(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(key + " must be a boolean")
	}
	return v, nil
}

// writeError maps service errors to a status and code. fallback is the
// code for errors with no specific mapping.
func writeError(c *gin.Context, logger *slog.Logger, err error, fallback string) {
	status, code := http.StatusInternalServerError, fallback
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnsupportedFormat):
		status, code = http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, ErrGraphNotFound):
		status, code = http.StatusNotFound, CodeGraphNotFound
	case errors.Is(err, ErrEntityNotFound):
		status, code = http.StatusNotFound, CodeEntityNotFound
	case errors.Is(err, model.ErrInvalidRelationshipReference), errors.Is(err, model.ErrInvalidGraph):
		status, code = http.StatusUnprocessableEntity, CodeInvalidGraph
	case errors.Is(err, builder.ErrSensitiveContent):
		status, code = http.StatusUnprocessableEntity, CodeSensitiveContent
	case errors.Is(err, builder.ErrDocumentResolution):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "Request failed", "error", err, "code", code)
	} else {
		logger.InfoContext(c.Request.Context(), "Request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
