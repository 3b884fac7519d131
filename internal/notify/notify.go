// Package notify tells operators about secret rotations and about refreshes
// that failed with nothing but the embedded secret left to serve.
package notify

import "github.com/hfi/token-broker/internal/secret"

var (
	_ secret.Notifier = (*Multi)(nil)
	_ secret.Notifier = (*SentryNotifier)(nil)
	_ secret.Notifier = (*SlackNotifier)(nil)
)

// Multi broadcasts notifications to several notifiers
type Multi struct {
	notifiers []secret.Notifier
}

// NewMulti creates a Multi. Nil notifiers are skipped.
func NewMulti(notifiers ...secret.Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of notifiers
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// NotifyRotation forwards to all notifiers
func (m *Multi) NotifyRotation(record *secret.Record) {
	for _, n := range m.notifiers {
		n.NotifyRotation(record)
	}
}

// NotifyError forwards to all notifiers
func (m *Multi) NotifyError(err error) {
	for _, n := range m.notifiers {
		n.NotifyError(err)
	}
}
