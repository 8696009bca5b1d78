package log

// MultiLogger fans one event stream out to several loggers, typically
// a FileLogger capture plus an SlogAdapter console mirror.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger wraps the given loggers. Nil entries are skipped at
// log time.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log forwards the event to every wrapped logger in order.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		if l != nil {
			l.Log(event)
		}
	}
}

var _ Logger = (*MultiLogger)(nil)
