package chat

import "github.com/sirupsen/logrus"

// Notifier receives the one-shot failure notice of a submit.
type Notifier interface {
	Notify(sessionID string, notice Notice)
}

// LogNotifier writes notices to the process log.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{log: logger.WithField("component", "notifier")}
}

func (n *LogNotifier) Notify(sessionID string, notice Notice) {
	n.log.WithFields(logrus.Fields{
		"session": sessionID,
		"level":   notice.Level,
	}).Warn(notice.Message)
}
