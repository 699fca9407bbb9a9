package main

import (
	"errors"
	"strings"
	"time"

	"github.com/xxxsen/mailshare/internal/config"
	"github.com/xxxsen/mailshare/internal/pkg/jwt"
)

func issueToken(cfg *config.Config, userID string, ttlHours int) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("--user is required")
	}
	if ttlHours <= 0 {
		return "", errors.New("--ttl-hours must be positive")
	}
	return jwt.GenerateToken(userID, "", []byte(cfg.JWTSecret), time.Duration(ttlHours)*time.Hour)
}
