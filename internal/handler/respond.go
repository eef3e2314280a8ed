package handler

import (
	"errors"
	"net/http"
	"strconv"

	"schoolpay/internal/domain"

	"github.com/gin-gonic/gin"
)

// respondError maps domain error kinds onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrGateway):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": domain.PublicMessage(err)})
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
