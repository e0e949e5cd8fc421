package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// BeeepSender delivers notifications through the OS notification daemon.
type BeeepSender struct {
	appName string
	logger  *slog.Logger
}

func NewBeeepSender(appName string, logger *slog.Logger) *BeeepSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}

	return &BeeepSender{appName: appName, logger: logger}
}

func (s *BeeepSender) Send(payload Payload) {
	beeep.AppName = s.appName
	if err := beeep.Notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Warn("send desktop notification", "error", err)
	}
}
