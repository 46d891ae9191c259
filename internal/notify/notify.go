// Package notify defines the notification surface for agent lifecycle
// events. Delivery (OS notification, sound, log line) is the caller's
// concern; the supervisor only emits {title, body} pairs.
package notify

import "github.com/mhutchinson/wd/internal/output"

// Notification is one user-facing event.
type Notification struct {
	Title string
	Body  string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(n Notification)
}

// UINotifier prints notifications through the shared terminal UI.
type UINotifier struct {
	UI *output.UI
}

func (u *UINotifier) Notify(n Notification) {
	u.UI.Info("%s: %s", n.Title, n.Body)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(Notification) {}
