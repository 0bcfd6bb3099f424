package controllers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

// decodeStrict decodes a single JSON object and rejects unknown fields.
func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after errand payload")
	}
	return nil
}

// writeError renders err as {"message": ...}. Errors outside the taxonomy
// become fallbackStatus with fallback as message.
func writeError(c *gin.Context, err error, fallbackStatus int, fallback string) {
	var he *domain.HTTPError
	if errors.As(err, &he) {
		c.JSON(he.Status, gin.H{"message": he.Message})
		return
	}
	loggerFrom(c).Error("unmapped error", "path", c.FullPath(), "err", err)
	c.JSON(fallbackStatus, gin.H{"message": fallback})
}

func abortMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}

func loggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
