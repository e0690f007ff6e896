package indicator

import (
	"github.com/gen2brain/beeep"
)

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title string, message string) error
}

// DesktopNotifier sends notifications through the freedesktop notification
// service.
type DesktopNotifier struct{}

// NewDesktopNotifier tags notifications with appName.
func NewDesktopNotifier(appName string) DesktopNotifier {
	if appName != "" {
		beeep.AppName = appName
	}
	return DesktopNotifier{}
}

func (DesktopNotifier) Notify(title string, message string) error {
	return beeep.Notify(title, message, "")
}
