package blobstore

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

// ServeHandler streams a stored blob. It is mounted at URLPrefix + "*".
func ServeHandler(store BlobStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Param("*")
		if !ValidKey(key) {
			return apperr.NotFound("file")
		}

		rc, meta, err := store.Open(c.Request().Context(), key)
		if err != nil {
			if errors.Is(err, ErrBlobNotFound) {
				return apperr.NotFound("file")
			}
			return apperr.Internal(err)
		}
		defer rc.Close()

		h := c.Response().Header()
		h.Set("Content-Disposition", "inline; filename=\""+meta.Key+"\"")
		if meta.Size > 0 {
			h.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		}
		c.Response().Header().Set(echo.HeaderContentType, meta.ContentType)
		c.Response().WriteHeader(http.StatusOK)
		_, err = io.Copy(c.Response(), rc)
		return err
	}
}
