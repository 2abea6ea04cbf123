package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/breed-identifier/internal/auth"
	"github.com/example/breed-identifier/internal/usecase"
)

// MaxUploadSize bounds an uploaded image.
const MaxUploadSize = 10 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.SessionUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.GetMetricsSummary())
	})

	sessions := router.Group("/sessions", authMiddleware)

	sessions.POST("", func(c *gin.Context) {
		s := uc.Create(auth.Owner(c.Request.Context()))
		c.JSON(http.StatusCreated, s.View())
	})

	sessions.GET("/:id", withSession(uc, func(c *gin.Context, s *usecase.Session) {
		c.JSON(http.StatusOK, s.View())
	}))

	sessions.DELETE("/:id", func(c *gin.Context) {
		if err := uc.Delete(c.Param("id"), auth.Owner(c.Request.Context())); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	sessions.POST("/:id/load", withSession(uc, func(c *gin.Context, s *usecase.Session) {
		if _, err := s.Load(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, s.View())
	}))

	sessions.POST("/:id/upload", withSession(uc, func(c *gin.Context, s *usecase.Session) {
		files, ok := readUpload(c)
		if !ok {
			return
		}
		if err := s.Upload(c.Request.Context(), files); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.View())
	}))

	sessions.POST("/:id/identify", withSession(uc, func(c *gin.Context, s *usecase.Session) {
		if _, err := s.Identify(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, s.View())
	}))

	sessions.POST("/:id/reset", withSession(uc, func(c *gin.Context, s *usecase.Session) {
		if err := s.Reset(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.View())
	}))

	sessions.POST("/:id/press", withSession(uc, func(c *gin.Context, s *usecase.Session) {
		task, err := s.Press(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusOK
		if task != nil {
			status = http.StatusAccepted
		}
		c.JSON(status, s.View())
	}))

	sessions.GET("/:id/image", withSession(uc, func(c *gin.Context, s *usecase.Session) {
		img, ok := s.Image()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no image to display"})
			return
		}
		c.Data(http.StatusOK, img.ContentType, img.Data)
	}))
}

func withSession(uc *usecase.SessionUseCase, fn func(*gin.Context, *usecase.Session)) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := uc.Get(c.Param("id"), auth.Owner(c.Request.Context()))
		if err != nil {
			writeError(c, err)
			return
		}
		fn(c, s)
	}
}

// readUpload extracts the chosen file. A missing file is rejected here; the
// picker filter is mirrored by requiring an image content type.
func readUpload(c *gin.Context) ([]usecase.UploadedFile, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}

	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}

	if contentType := file.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are accepted"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}

	return []usecase.UploadedFile{{Filename: file.Filename, Data: data}}, true
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrActionUnavailable), errors.Is(err, usecase.ErrUploadRequired):
		status = http.StatusConflict
	case errors.Is(err, usecase.ErrInvalidUpload):
		status = http.StatusUnsupportedMediaType
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
