package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cdpwatch/internal/ctxkeys"
	"cdpwatch/internal/logger"
)

// GormLogger 将 GORM 日志转接到项目日志，附带分发上下文中的追踪、会话与订阅 ID
type GormLogger struct {
	log           logger.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 创建 GORM 日志适配器，默认只输出告警及以上
func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{
		log:           l,
		level:         gormlogger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Info {
		g.log.Info(msg, g.ctxFields(ctx, "data", data)...)
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(msg, g.ctxFields(ctx, "data", data)...)
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Error {
		g.log.Error(msg, g.ctxFields(ctx, "data", data)...)
	}
}

// Trace 记录 SQL；查无记录不算错误
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := g.ctxFields(ctx, "sql", sql, "rows", rows, "timeMs", float64(elapsed.Nanoseconds())/1e6)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		g.log.Err(err, "SQL执行错误", fields...)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		g.log.Warn("慢SQL查询", append(fields, "threshold", g.slowThreshold.String())...)
	case g.level == gormlogger.Info:
		g.log.Debug("SQL执行", fields...)
	}
}

// ctxFields 在 kv 前追加上下文中存在的 ID
func (g *GormLogger) ctxFields(ctx context.Context, kv ...any) []any {
	out := make([]any, 0, len(kv)+6)
	if id := ctxkeys.TraceID(ctx); id != "" {
		out = append(out, "traceId", id)
	}
	if id := ctxkeys.SessionID(ctx); id != "" {
		out = append(out, "sessionID", id)
	}
	if id := ctxkeys.SubscriptionID(ctx); id != "" {
		out = append(out, "subscription", id)
	}
	return append(out, kv...)
}
