package settlement

import "context"

// Notifier is the external notification collaborator. The verifier treats
// delivery as fire-and-forget: it never blocks on it and delivery failure
// never affects a verification outcome.
type Notifier interface {
	NotifySuccess(ctx context.Context, payment *Payment, event *SweptEvent)
	NotifyFailure(ctx context.Context, payment *Payment, cause error)
}

type asyncNotifier struct {
	inner Notifier
	log   Log
}

// NewAsyncNotifier wraps a Notifier so each delivery runs on its own
// goroutine, detached from the caller's context deadline. Panics in the
// wrapped notifier are contained.
func NewAsyncNotifier(inner Notifier, log Log) Notifier {
	return &asyncNotifier{inner: inner, log: log}
}

func (n *asyncNotifier) NotifySuccess(_ context.Context, payment *Payment, event *SweptEvent) {
	go func() {
		defer n.recover(payment)
		n.inner.NotifySuccess(context.Background(), payment, event)
	}()
}

func (n *asyncNotifier) NotifyFailure(_ context.Context, payment *Payment, cause error) {
	go func() {
		defer n.recover(payment)
		n.inner.NotifyFailure(context.Background(), payment, cause)
	}()
}

func (n *asyncNotifier) recover(payment *Payment) {
	if r := recover(); r != nil {
		n.log.Error().Interface("panic", r).Str("payment", payment.Reference).Msg("notifier panicked")
	}
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) NotifySuccess(context.Context, *Payment, *SweptEvent) {}

func (NopNotifier) NotifyFailure(context.Context, *Payment, error) {}
