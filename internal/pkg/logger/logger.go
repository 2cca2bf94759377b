// Package logger 封装 zap，提供带字段脱敏的结构化日志
package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Logger 结构化日志
type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New 根据模式创建日志 (dev/prod)
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

// Nop 返回丢弃所有输出的日志，用于测试
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, sanitizeKVs(keysAndValues)...)
}

// With 返回附带固定字段的子日志
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(sanitizeKVs(keysAndValues)...)}
}

const redacted = "[REDACTED]"

// sensitiveKeys 本服务会出现在日志中的凭据字段
var sensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"authorization": true,
	"jwt_secret":    true,
	"api_key":       true,
}

// sanitizeKVs 脱敏凭据字段以及形似 JWT 或 Bearer 头的值
func sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		key, _ := out[i].(string)
		if isSensitiveKey(key) {
			out[i+1] = redacted
			continue
		}
		if v, ok := out[i+1].(string); ok && isCredential(v) {
			out[i+1] = redacted
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	return sensitiveKeys[key] || strings.HasSuffix(key, "_token")
}

func isCredential(v string) bool {
	if strings.HasPrefix(v, "Bearer ") {
		return true
	}
	// JWT 头部固定以 {" 开头，base64 后为 eyJ
	return strings.HasPrefix(v, "eyJ") && strings.Count(v, ".") == 2
}
