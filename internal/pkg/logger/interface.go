package logger

// LoggingClient 各组件共用的日志接口，非 f 结尾的方法把 args 当作 key/value 对
type LoggingClient interface {
	SetLogLevel(logLevel string) error
	LogLevel() string

	Trace(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	Tracef(msg string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})

	Close() error
}
