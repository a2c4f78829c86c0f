package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/input"
	"github.com/variant-interpretation-server/internal/middleware"
	"github.com/variant-interpretation-server/internal/pipeline"
	"github.com/variant-interpretation-server/internal/reference"
)

// AnnotateResponse is the body returned by POST /api/v1/annotate
type AnnotateResponse struct {
	Batch   *domain.BatchResult `json:"batch"`
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// ValidityResponse is the body returned by GET /api/v1/validity/:gene
type ValidityResponse struct {
	Gene           string `json:"gene"`
	Symbol         string `json:"symbol"`
	Classification string `json:"classification"`
	DiseaseLabel   string `json:"disease_label,omitempty"`
}

// handleAnnotate accepts an uploaded VCF, CSV or TSV file, either as the
// multipart field "file" or as the raw request body named by ?filename=.
func (s *Server) handleAnnotate(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes())

	variants, err := s.readUpload(c)
	if err != nil {
		s.writeError(c, err)
		return
	}

	batch, err := s.service.Run(c.Request.Context(), pipeline.Request{
		Variants: variants,
		APIKey:   apiKey(c),
	})
	if err != nil && !(batch != nil && errors.Is(err, context.Canceled)) {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, AnnotateResponse{
		Batch:   batch,
		Columns: domain.Columns,
		Rows:    batch.Rows(),
	})
}

// handleValidity returns the gene-disease validity classification for a gene
func (s *Server) handleValidity(c *gin.Context) {
	gene := c.Param("gene")
	resp := ValidityResponse{
		Gene:           gene,
		Symbol:         reference.CleanGeneSymbol(gene),
		Classification: s.service.Classify(gene),
	}
	if row, ok := s.service.LookupValidity(gene); ok {
		resp.DiseaseLabel = row.DiseaseLabel
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) readUpload(c *gin.Context) ([]domain.Variant, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing multipart file field %q: %w", "file", err)
		}
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload: %w", err)
		}
		defer f.Close()
		return input.ParseVariants(header.Filename, f)
	}
	return input.ParseVariants(c.Query("filename"), c.Request.Body)
}

// apiKey returns the caller-supplied text-generation key, if any
func apiKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	return c.PostForm("api_key")
}

// writeError maps pipeline and input errors onto HTTP responses
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.RequestIDKey)

	var (
		schemaErr *domain.SchemaError
		parseErr  *input.ParseError
		maxErr    *http.MaxBytesError
	)

	status := http.StatusInternalServerError
	apiErr := domain.NewAPIError(domain.ErrCodeInternalServer, "batch failed", err.Error(), requestID)

	switch {
	case errors.Is(err, domain.ErrMissingCredential):
		status = http.StatusUnauthorized
		apiErr = domain.NewAPIError(domain.ErrCodeMissingCredential, "text-generation API key is required", err.Error(), requestID)
	case errors.As(err, &schemaErr), errors.As(err, &parseErr), errors.Is(err, domain.ErrNoVariants):
		status = http.StatusBadRequest
		apiErr = domain.NewAPIError(domain.ErrCodeInvalidInput, "invalid variant file", err.Error(), requestID)
	case errors.As(err, &maxErr):
		status = http.StatusRequestEntityTooLarge
		apiErr = domain.NewAPIError(domain.ErrCodeInvalidInput, "upload too large", err.Error(), requestID)
	case errors.Is(err, io.EOF), errors.Is(err, http.ErrMissingFile):
		status = http.StatusBadRequest
		apiErr = domain.NewAPIError(domain.ErrCodeInvalidInput, "no file uploaded", err.Error(), requestID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		apiErr = domain.NewAPIError(domain.ErrCodeCancelled, "batch cancelled", err.Error(), requestID)
	}

	entry := s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"code":       apiErr.Code,
		"error":      err.Error(),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(status, apiErr)
}
