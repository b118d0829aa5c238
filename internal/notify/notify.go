// Package notify carries user-visible outcome messages out of the engine.
// The presentation layer owns rendering; the engine owns deciding when to
// fire.
package notify

import (
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/metrics"
)

// Severities of user-visible outcomes.
const (
	SeveritySuccess = "success"
	SeverityInfo    = "info"
	SeverityError   = "error"
)

// Notifier receives every user-visible outcome message.
type Notifier interface {
	Notify(message, severity string)
}

// Func adapts a function to Notifier.
type Func func(message, severity string)

func (f Func) Notify(message, severity string) { f(message, severity) }

// LogNotifier writes notifications to the structured log. Default sink when
// no presentation layer is attached.
type LogNotifier struct {
	logger *zerolog.Logger
}

// NewLogNotifier creates a log-backed sink.
func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(message, severity string) {
	metrics.IncNotification(severity)
	switch severity {
	case SeverityError:
		n.logger.Error().Str("severity", severity).Msg(message)
	default:
		n.logger.Info().Str("severity", severity).Msg(message)
	}
}

// Limited wraps a Notifier with a token bucket so a reconnect storm or a
// snapshot burst cannot flood the user. Dropped messages are still counted.
type Limited struct {
	inner   Notifier
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// NewLimited allows perSecond sustained notifications with the given burst.
func NewLimited(inner Notifier, perSecond float64, burst int, logger *zerolog.Logger) *Limited {
	return &Limited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

func (l *Limited) Notify(message, severity string) {
	if !l.limiter.Allow() {
		metrics.IncNotification(severity)
		l.logger.Debug().Str("severity", severity).Str("message", message).
			Msg("notification dropped by rate limit")
		return
	}
	l.inner.Notify(message, severity)
}

// Multi fans one notification out to several sinks.
type Multi []Notifier

func (m Multi) Notify(message, severity string) {
	for _, n := range m {
		n.Notify(message, severity)
	}
}
