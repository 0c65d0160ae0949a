package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"docuchat/internal/chunker"
	"docuchat/internal/embedding"
	"docuchat/internal/models"
	"docuchat/internal/parser"
	"docuchat/internal/rag"
)

const (
	msgNoFile        = "No file provided"
	msgEmptyFile     = "File is empty"
	msgNoText        = "No readable text found in file"
	msgStoreFailed   = "Failed to store embeddings. Check the vector index configuration."
	msgNoMessage     = "No message provided"
	msgBadBody       = "Invalid request body"
	msgMissingAPIKey = "Missing OpenAI API key. Provide it in the x-openai-api-key header or set OPENAI_API_KEY on the server."
	msgInternal      = "Internal server error"
	msgUploaded      = "File processed and stored successfully"
)

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

type chatRequest struct {
	Message string           `json:"message"`
	History []models.Message `json:"history"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Backend   string `json:"backend"`
	Dimension int    `json:"dimension"`
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

func apiKey(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(models.APIKeyHeader))
}

func (s *Server) upload(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, msgNoFile)
	}
	if fh.Size == 0 {
		return fail(c, http.StatusBadRequest, msgEmptyFile)
	}

	key := apiKey(c)
	if err := s.pipeline.RequireKey(key); err != nil {
		return fail(c, http.StatusBadRequest, msgMissingAPIKey)
	}

	f, err := fh.Open()
	if err != nil {
		log.Error().Err(err).Str("filename", fh.Filename).Msg("Failed to open upload")
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		log.Error().Err(err).Str("filename", fh.Filename).Msg("Failed to read upload")
		return fail(c, http.StatusInternalServerError, msgInternal)
	}

	in := parser.Input{
		Filename: fh.Filename,
		MimeType: fh.Header.Get(echo.HeaderContentType),
		Data:     data,
	}
	log.Info().Str("filename", in.Filename).Str("type", in.MimeType).Int("size", len(data)).Msg("Processing file")

	chunks, err := s.pipeline.Prepare(ctx, key, in)
	switch {
	case err == nil:
	case errors.Is(err, embedding.ErrMissingAPIKey):
		return fail(c, http.StatusBadRequest, msgMissingAPIKey)
	case errors.Is(err, parser.ErrNoText), errors.Is(err, chunker.ErrNoChunks):
		return fail(c, http.StatusUnprocessableEntity, msgNoText)
	default:
		log.Error().Err(err).Str("filename", in.Filename).Msg("Failed to parse file")
		return fail(c, http.StatusInternalServerError, "Failed to parse file: "+err.Error())
	}

	if err := s.pipeline.Store(ctx, key, chunks); err != nil {
		if errors.Is(err, embedding.ErrMissingAPIKey) {
			return fail(c, http.StatusBadRequest, msgMissingAPIKey)
		}
		log.Error().Err(err).Str("filename", in.Filename).Msg("Failed to store embeddings")
		return fail(c, http.StatusInternalServerError, msgStoreFailed)
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Message:  msgUploaded,
		Filename: in.Filename,
		Chunks:   len(chunks),
	})
}

func (s *Server) chatError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, embedding.ErrMissingAPIKey):
		return fail(c, http.StatusBadRequest, msgMissingAPIKey)
	case errors.Is(err, rag.ErrEmptyQuestion):
		return fail(c, http.StatusBadRequest, msgNoMessage)
	default:
		log.Error().Err(err).Msg("Chat processing error")
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
}

// flushWriter pushes every write to the client.
type flushWriter struct {
	res *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	w.res.Flush()
	return n, err
}

func (s *Server) chat(c echo.Context) error {
	ctx := c.Request().Context()

	// JSON is accepted with any or no Content-Type
	var req chatRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return fail(c, http.StatusBadRequest, msgBadBody)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fail(c, http.StatusBadRequest, msgNoMessage)
	}

	p, err := s.pipeline.Retrieve(ctx, rag.Request{
		Question: req.Message,
		APIKey:   apiKey(c),
		History:  req.History,
	})
	if err != nil {
		return s.chatError(c, err)
	}

	sources, err := rag.EncodeSources(p.Sources)
	if err != nil {
		return s.chatError(c, err)
	}

	if c.QueryParam("stream") == "true" {
		res := c.Response()
		res.Header().Set(models.SourcesHeader, sources)
		res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
		res.Header().Set("Cache-Control", "no-cache")
		res.WriteHeader(http.StatusOK)
		if _, err := s.pipeline.Stream(ctx, p, flushWriter{res: res}); err != nil {
			// headers are gone; the client sees a truncated body
			log.Error().Err(err).Msg("Chat stream failed")
		}
		return nil
	}

	answer, err := s.pipeline.Generate(ctx, p)
	if err != nil {
		return s.chatError(c, err)
	}
	c.Response().Header().Set(models.SourcesHeader, sources)
	return c.String(http.StatusOK, answer)
}

func (s *Server) health(c echo.Context) error {
	dim, err := s.pipeline.Dimension(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Health check failed")
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Backend: s.backend})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Backend: s.backend, Dimension: dim})
}
