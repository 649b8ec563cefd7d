package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"cdpwatch/internal/ctxkeys"
	"cdpwatch/internal/logger"
)

// Capture 一次回调分发的落库记录
type Capture struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	TraceID      string    `gorm:"size:36;index" json:"traceId"`
	SessionID    string    `gorm:"size:36;index" json:"sessionId"`
	Subscription string    `gorm:"size:36;index" json:"subscription"`
	Rule         string    `json:"rule"`
	URL          string    `json:"url"`
	StatusCode   int       `json:"statusCode"`
	ContentType  string    `json:"contentType"`
	Matched      bool      `gorm:"index" json:"matched"`
	GrpcStatus   string    `json:"grpcStatus,omitempty"`
	Body         string    `json:"body,omitempty"`
	CapturedAt   time.Time `gorm:"index" json:"capturedAt"`
}

// Options 存储选项
type Options struct {
	DSN    string
	Prefix string
}

// Store 基于 GORM + SQLite 的捕获记录存储
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开数据库并自动迁移表结构
func Open(opts Options, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.DSN, err)
	}
	if err := db.AutoMigrate(&Capture{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Info("捕获存储已打开", "dsn", opts.DSN)
	return &Store{db: db, log: l}, nil
}

// Save 写入一条记录，缺省字段自动补齐
func (s *Store) Save(ctx context.Context, c *Capture) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.TraceID == "" {
		c.TraceID = ctxkeys.TraceID(ctx)
	}
	if c.SessionID == "" {
		c.SessionID = ctxkeys.SessionID(ctx)
	}
	if c.Subscription == "" {
		c.Subscription = ctxkeys.SubscriptionID(ctx)
	}
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(c).Error
}

// Query 查询条件
type Query struct {
	SessionID    string
	Subscription string
	MatchedOnly  bool
	Limit        int
}

// List 按时间倒序查询
func (s *Store) List(ctx context.Context, q Query) ([]Capture, error) {
	tx := s.db.WithContext(ctx).Model(&Capture{})
	if q.SessionID != "" {
		tx = tx.Where("session_id = ?", q.SessionID)
	}
	if q.Subscription != "" {
		tx = tx.Where("subscription = ?", q.Subscription)
	}
	if q.MatchedOnly {
		tx = tx.Where("matched = ?", true)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var out []Capture
	err := tx.Order("captured_at DESC").Find(&out).Error
	return out, err
}

// Count 统计记录数
func (s *Store) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	tx := s.db.WithContext(ctx).Model(&Capture{})
	if sessionID != "" {
		tx = tx.Where("session_id = ?", sessionID)
	}
	err := tx.Count(&n).Error
	return n, err
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
