package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/dmorgan81/promptmint/internal/handler"
	"github.com/dmorgan81/promptmint/internal/history"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

type historyImage struct {
	URL       string `json:"url"`
	Prompt    string `json:"prompt"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) generate(c *gin.Context) {
	var in handler.Input
	if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorBody{
			Error:     "Request body must be valid JSON",
			Code:      "INVALID_JSON",
			Details:   err.Error(),
			Timestamp: handler.Timestamp(time.Now()),
		})
		return
	}

	out, err := s.opts.Generator.Handle(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) fail(c *gin.Context, err error) {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		fe = failure.Wrap(failure.Internal, "", err)
	}
	log.FromContextOrDiscard(c.Request.Context()).WithGroup("server").Error("generation request failed", "error", err, "code", fe.Code())
	c.JSON(fe.HTTPStatus(), errorBody{
		Error:     fe.UserMessage(),
		Code:      fe.Code(),
		Details:   fe.Details(),
		Timestamp: handler.Timestamp(time.Now()),
	})
}

func (s *Server) history(c *gin.Context) {
	records, err := s.opts.History.ListRecent(c.Request.Context(), s.opts.HistoryLimit)
	if err != nil {
		log.FromContextOrDiscard(c.Request.Context()).WithGroup("server").Error("could not list history", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{
			Error:     "Failed to load image history",
			Code:      "HISTORY_FAILED",
			Timestamp: handler.Timestamp(time.Now()),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"images": lo.Map(records, func(r history.Record, _ int) historyImage {
			return historyImage{URL: r.DurableURL, Prompt: r.Prompt, Timestamp: r.CreatedAt.UnixMilli()}
		}),
	})
}

func (s *Server) feed(c *gin.Context) {
	rss, err := s.opts.Feed.Generate(c.Request.Context())
	if err != nil {
		log.FromContextOrDiscard(c.Request.Context()).WithGroup("server").Error("could not render feed", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", rss)
}

// requestLogger scopes the context logger to the request and logs its outcome.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		logger := log.FromContextOrDiscard(ctx).With("method", c.Request.Method, "path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(log.NewContext(ctx, logger))

		c.Next()

		logger.Info("request complete", "status", c.Writer.Status(), "duration", time.Since(start))
	}
}
