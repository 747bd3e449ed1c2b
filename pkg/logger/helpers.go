package logger

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) Debug(string)                                  {}
func (n nopLogger) Info(string)                                   {}
func (n nopLogger) Warn(string)                                   {}
func (n nopLogger) Error(string)                                  {}
func (n nopLogger) WithField(string, interface{}) Logger          { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger      { return n }
func (n nopLogger) WithError(error) Logger                        { return n }
func (n nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (n nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (n nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (n nopLogger) ErrorWithFields(string, map[string]interface{}) {}
