package controller

import (
	"context"
	"log/slog"
)

// User-facing messages.
const (
	MsgBackendError          = "Error connecting to backend"
	MsgScheduleError         = "Error creating schedule"
	MsgConfigError           = "Error saving configuration"
	MsgSimulatedUpdateAll    = "(Simulation) Global process started in background."
	MsgConfirmUpdateAll      = "Are you sure you want to update the ENTIRE fleet?"
	MsgConfirmDeleteSchedule = "Delete schedule?"
)

// Notifier shows messages to the user.
type Notifier interface {
	// Alert reports a failed action.
	Alert(msg string)
	// Notice reports information, such as a simulated run.
	Notice(msg string)
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a func to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// AutoConfirm answers yes to every prompt.
var AutoConfirm = ConfirmFunc(func(string) bool { return true })

// denyAll is the default so nothing destructive runs unasked.
var denyAll = ConfirmFunc(func(string) bool { return false })

type confirmedKey struct{}

// WithConfirmation marks ctx as already confirmed by the user, so the
// Confirmer is not asked. Request handlers use it for explicit confirm flags.
func WithConfirmation(ctx context.Context) context.Context {
	return context.WithValue(ctx, confirmedKey{}, true)
}

func confirmed(ctx context.Context, c Confirmer, prompt string) bool {
	if ok, _ := ctx.Value(confirmedKey{}).(bool); ok {
		return true
	}
	return c.Confirm(prompt)
}

type logNotifier struct{ logger *slog.Logger }

func (n logNotifier) Alert(msg string)  { n.logger.Error(msg) }
func (n logNotifier) Notice(msg string) { n.logger.Info(msg) }
