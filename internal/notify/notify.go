// Package notify delivers trading events to external channels (Telegram,
// log). All sends are best-effort and fire-and-forget: a delivery failure
// never affects pipeline or executor correctness.
package notify

import (
	"context"
	"log"

	"signalbot/internal/model"
)

// AlertLevel represents the severity of a system alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Notifier is the interface for all notification backends.
type Notifier interface {
	// SendSignal announces a freshly generated signal.
	SendSignal(ctx context.Context, s *model.Signal) error

	// SendOrderUpdate reports an execution outcome for a signal.
	SendOrderUpdate(ctx context.Context, s *model.Signal, executed bool, message string) error

	// SendPnLUpdate reports a closed trade with its exit reason.
	SendPnLUpdate(ctx context.Context, s *model.Signal, reason model.ExitReason) error

	// SendSystemAlert reports a system-level event (market open/close,
	// session refresh failures, scheduler state).
	SendSystemAlert(ctx context.Context, level AlertLevel, message string) error
}

// LogNotifier logs events instead of delivering them (useful for development
// and as a fallback when Telegram is not configured).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendSignal(ctx context.Context, s *model.Signal) error {
	log.Printf("[notify] SIGNAL %s %s entry=%.2f sl=%.2f target=%.2f rr=%.2f",
		s.Direction, s.OptionSymbol, s.EntryPrice, s.StopLoss, s.TargetPrice, s.RiskReward)
	return nil
}

func (n *LogNotifier) SendOrderUpdate(ctx context.Context, s *model.Signal, executed bool, message string) error {
	log.Printf("[notify] ORDER %s executed=%v: %s", s.OptionSymbol, executed, message)
	return nil
}

func (n *LogNotifier) SendPnLUpdate(ctx context.Context, s *model.Signal, reason model.ExitReason) error {
	log.Printf("[notify] PNL %s %s exit=%.2f pnl=%.2f", s.OptionSymbol, reason, s.ExitPrice, s.ProfitLoss)
	return nil
}

func (n *LogNotifier) SendSystemAlert(ctx context.Context, level AlertLevel, message string) error {
	log.Printf("[notify] [%s] %s", level, message)
	return nil
}
