package audit

import "github.com/hfi/token-broker/internal/secret"

// SecretNotifier records secret store notifications as audit events
type SecretNotifier struct {
	Auditor Auditor
}

// NotifyRotation logs the new version
func (n SecretNotifier) NotifyRotation(record *secret.Record) {
	if n.Auditor == nil || record == nil {
		return
	}
	n.Auditor.LogSecretRefreshed(record.Version)
}

// NotifyError logs a refresh failure that left only the embedded secret
func (n SecretNotifier) NotifyError(err error) {
	if n.Auditor == nil || err == nil {
		return
	}
	n.Auditor.LogSecretFallback("", string(secret.SourceDefault), err.Error())
}
