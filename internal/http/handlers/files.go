package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"civicom/internal/blob"
	appErrors "civicom/pkg/errors"
	"civicom/pkg/logger"
)

// FileHandler serves blobs through their signed URLs. The signature is
// the authorization; no session is needed, which is what lets the UI
// drop the URL straight into an <img> tag.
type FileHandler struct {
	Store  *blob.FSStore
	Logger logger.Logger
}

func (h *FileHandler) Serve(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")

	if err := h.Store.Verify(path, c.Query("expires"), c.Query("sig")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"message": "signature invalid or expired"})
		return
	}

	data, err := h.Store.Get(c.Request.Context(), path)
	if err != nil {
		if appErrors.Is(err, blob.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "file not found"})
			return
		}
		h.Logger.Error("blob read failed", "path", path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not read file"})
		return
	}

	c.Data(http.StatusOK, http.DetectContentType(data), data)
}
