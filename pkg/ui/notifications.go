package ui

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"runtime"

	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/models"

	"github.com/dustin/go-humanize"
)

const notificationTitle = "feedarchiver"

// SendFunc delivers one desktop notification
type SendFunc func(title, message string) error

// Notifier tells the user on the desktop how an unattended run ended
type Notifier struct {
	send SendFunc
}

// NewNotifier returns a Notifier using the platform's notification command.
// On platforms without one it stays silent.
func NewNotifier() *Notifier {
	return &Notifier{send: desktopSender(runtime.GOOS)}
}

// NewNotifierWith returns a Notifier delivering through send, which may be nil
func NewNotifierWith(send SendFunc) *Notifier {
	return &Notifier{send: send}
}

func desktopSender(goos string) SendFunc {
	switch goos {
	case "linux":
		return func(title, message string) error {
			return exec.Command("notify-send", "--app-name="+notificationTitle, title, message).Run()
		}
	case "darwin":
		return func(title, message string) error {
			script := fmt.Sprintf(`display notification %q with title %q`, message, title)
			return exec.Command("osascript", "-e", script).Run()
		}
	default:
		return nil
	}
}

// RunFinished reports a completed run. Runs that saved nothing and lost
// nothing are not worth a notification.
func (n *Notifier) RunFinished(s models.Summary) {
	if s.Downloaded == 0 && s.Failed == 0 {
		return
	}
	n.deliver(FinishedMessage(s))
}

// RunFailed reports a run that stopped before downloading. Interrupted runs
// are not reported.
func (n *Notifier) RunFailed(err error) {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return
	}
	msg := "run failed: " + err.Error()
	if errors.IsFatal(err) {
		msg = "could not reach the feed, check the account and the site"
	}
	n.deliver(msg)
}

func (n *Notifier) deliver(message string) {
	if n.send == nil {
		return
	}
	_ = n.send(notificationTitle, message)
}

// FinishedMessage is the one-line notification text for a completed run
func FinishedMessage(s models.Summary) string {
	msg := fmt.Sprintf("%d new photos saved (%s)", s.Downloaded, humanize.Bytes(uint64(s.Bytes)))
	if s.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", s.Failed)
	}
	return msg
}
