package ws

import (
	"time"

	"go.uber.org/zap"
)

// ConnInfo describes one live socket.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Channels    []string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) fields() []zap.Field {
	return []zap.Field{
		zap.String("conn_id", i.ConnID),
		zap.Int("user_id", i.UserID),
		zap.Strings("channels", i.Channels),
		zap.String("device_id", i.DeviceID),
		zap.String("ip", i.IP),
		zap.String("request_id", i.RequestID),
		zap.String("trace_id", i.TraceID),
	}
}
