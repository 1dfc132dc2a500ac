package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/runlet/runlet/internal/docstore"
	"github.com/runlet/runlet/internal/engine"
	"github.com/runlet/runlet/internal/record"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateDocumentRequest creates a document from an already-serialized
// content blob. Content must at minimum carry a "models" array.
type CreateDocumentRequest struct {
	ID      string          `json:"id"`
	OwnerID string          `json:"ownerId"`
	Name    string          `json:"name" binding:"required"`
	Content json.RawMessage `json:"content" binding:"required"`
}

// DocumentResponse is the wire form of a stored document.
type DocumentResponse struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId,omitempty"`
	Name      string          `json:"name"`
	Content   json.RawMessage `json:"content"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

// ExecuteRequest runs a script against a document.
type ExecuteRequest struct {
	Script   string            `json:"script" binding:"required"`
	Input    map[string]any    `json:"input"`
	EnvVars  map[string]string `json:"envVars"`
	TestMode bool              `json:"testMode"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateDocument(c *gin.Context) {
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	// Validate the blob up front so a broken document is rejected here
	// rather than on its first execution.
	if _, err := record.ParseDocument(req.Content); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return
	}

	doc := &docstore.Document{
		ID:      req.ID,
		OwnerID: req.OwnerID,
		Name:    req.Name,
		Content: req.Content,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	if err := s.docs.Create(c.Request.Context(), doc); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, documentResponse(doc))
}

func (s *Server) handleGetDocument(c *gin.Context) {
	doc, err := s.docs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if engine.IsDocumentNotFound(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, documentResponse(doc))
}

func (s *Server) handleExecute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	resp, err := s.executor.Execute(c.Request.Context(), engine.Request{
		DocumentID: c.Param("id"),
		Script:     req.Script,
		Input:      req.Input,
		EnvVars:    req.EnvVars,
		TestMode:   req.TestMode,
		Type:       engine.TypeAction,
	})
	if err != nil {
		switch {
		case engine.IsDocumentNotFound(err):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
		case engine.IsInvalidContent(err):
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
		return
	}

	// Script failures are reported in-band with 200: the execution itself
	// completed and its outcome is the payload.
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHistory(c *gin.Context) {
	history, err := s.executor.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case engine.IsDocumentNotFound(err):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
		case engine.IsInvalidContent(err):
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
		return
	}
	if history == nil {
		history = []record.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func documentResponse(doc *docstore.Document) DocumentResponse {
	return DocumentResponse{
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		Name:      doc.Name,
		Content:   json.RawMessage(doc.Content),
		CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
