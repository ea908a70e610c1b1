package core

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

const (
	defaultLimit = 100
	maxLimit     = 100
)

// parseSkipLimit reads skip/limit query values; empty values take the defaults
// (0 and 100) and limit is capped at maxLimit.
func parseSkipLimit(skipStr, limitStr string) (int, int, error) {
	skip := 0
	limit := defaultLimit
	if strings.TrimSpace(skipStr) != "" {
		v, err := strconv.Atoi(skipStr)
		if err != nil || v < 0 {
			return 0, 0, errors.New("skip must be a non-negative integer")
		}
		skip = v
	}
	if strings.TrimSpace(limitStr) != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if v > maxLimit {
			v = maxLimit
		}
		limit = v
	}
	return skip, limit, nil
}
