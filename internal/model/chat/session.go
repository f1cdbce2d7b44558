package chat

import (
	"time"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
)

// SessionInfo describes a conversation session to HTTP clients.
type SessionInfo struct {
	ID          string            `json:"id"`
	Config      experiment.Config `json:"config"`
	DisplayName string            `json:"displayName"`
	CreatedAt   time.Time         `json:"createdAt"`
}
