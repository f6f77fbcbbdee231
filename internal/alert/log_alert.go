package alert

import (
	"tracel-engine/internal/model"

	"github.com/sirupsen/logrus"
)

// LogAlertNotifier sends alerts to local logs
type LogAlertNotifier struct {
	logger *logrus.Logger
}

// NewLogAlertNotifier creates a new log alert notifier
func NewLogAlertNotifier(logger *logrus.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{
		logger: logger,
	}
}

// SendAlert implements Notifier interface - sends alert to logs
func (ln *LogAlertNotifier) SendAlert(alert model.Alert) error {
	if alert.Score != nil {
		ln.logger.Warnf("ALERT [%s] owner=%s src=%s score=%.4f: %s",
			alert.Severity, alert.OwnerID, alert.SourceIP, *alert.Score, alert.Message)
		return nil
	}
	ln.logger.Warnf("ALERT [%s] owner=%s src=%s: %s",
		alert.Severity, alert.OwnerID, alert.SourceIP, alert.Message)
	return nil
}
