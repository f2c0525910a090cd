package ledger

import "context"

// Notifier delivers user notifications and audit-channel entries. Both are
// best-effort and asynchronous: implementations log failures and never
// surface them, so a committed ledger mutation is never rolled back over a
// delivery problem.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
	LogToAudit(ctx context.Context, text string)
}

// NopNotifier drops everything. Used in tests and when no gateway is
// configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, int64, string) {}
func (NopNotifier) LogToAudit(context.Context, string)    {}
