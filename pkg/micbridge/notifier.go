package micbridge

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier delivers short user-facing messages outside the log stream.
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier shows OS toast notifications.
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	logger.Debug("Created toast notifier instance")

	return &ToastNotifier{logger: logger}, nil
}

func (tn *ToastNotifier) Notify(title string, message string) {
	tn.logger.Infow("Showing notification to user", "title", title, "message", message)

	if err := beeep.Notify(title, message, ""); err != nil {
		tn.logger.Warnw("Failed to show toast notification", "error", err)
	}
}
