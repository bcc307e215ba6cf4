package httpapi

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	kernelerrors "github.com/orchestrik/kernel/pkg/errors"
	"github.com/orchestrik/kernel/pkg/logger"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"error": message})
}

// fail maps err to a status code: policy/validation errors become 4xx,
// anything else is a 500 and gets logged server-side.
func fail(c *gin.Context, op string, err error) {
	switch {
	case stderrors.Is(err, kernelerrors.ErrNotFound), stderrors.Is(err, kernelerrors.ErrAgentNotFound),
		stderrors.Is(err, kernelerrors.ErrMessageNotFound), stderrors.Is(err, kernelerrors.ErrRunNotFound),
		stderrors.Is(err, kernelerrors.ErrBindingNotFound):
		notFound(c, err.Error())
	case stderrors.Is(err, kernelerrors.ErrPolicyDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		logger.Error("httpapi: request failed", logger.FieldAction, op, logger.FieldError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
