package mailbox

import (
	"context"
	"errors"
	"strings"
)

// userMessager is implemented by errors that carry a message meant for
// display, such as API errors decoded from a response body.
type userMessager interface {
	UserMessage() string
}

// Humanize turns an error from a remote call into a short message for the
// error slot of the concern that issued it.
func Humanize(prefix string, err error) string {
	if err == nil {
		return ""
	}
	var msg string
	var um userMessager
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "the request timed out"
	case errors.Is(err, context.Canceled):
		msg = "the request was cancelled"
	case errors.As(err, &um) && um.UserMessage() != "":
		msg = um.UserMessage()
	default:
		msg = err.Error()
	}
	msg = strings.TrimSpace(msg)
	if prefix == "" {
		return msg
	}
	return prefix + ": " + msg
}
