package promotion

import (
	"context"
	"log"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

// LogProgress writes progress messages to a logger.
type LogProgress struct {
	Logger *log.Logger
}

func (p LogProgress) Report(ctx context.Context, key models.Key, message string) {
	p.Logger.Printf("[progress] %s %s", key, message)
}
