package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"cdpstealth/internal/logger"
	"cdpstealth/internal/network"
	"cdpstealth/pkg/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Store 调试产物与捕获流量的持久化
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开 sqlite 数据库并迁移表结构，表名带 prefix 前缀
func Open(dsn, prefix string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         newSQLLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&CapturedRequest{}, &DebugSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Info("存储已就绪", "dsn", dsn, "prefix", prefix)
	return &Store{db: db, log: l}, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordRequest 保存进入终态的请求
func (s *Store) RecordRequest(ctx context.Context, sessionID domain.SessionID, rec network.Record) error {
	row := CapturedRequest{
		SessionID:  string(sessionID),
		RequestID:  string(rec.ID),
		URL:        rec.URL,
		Method:     rec.Method,
		State:      rec.State.String(),
		Status:     rec.Status,
		ErrorText:  rec.ErrorText,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if rec.Request != nil {
		row.ResourceType = rec.Request.ResourceType
		row.RequestHeaders = marshalHeaders(rec.Request.Headers)
		row.RequestBody = rec.Request.Body
	}
	if rec.Response != nil {
		row.MimeType = rec.Response.MimeType
		row.ResponseHeaders = marshalHeaders(rec.Response.Headers)
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListRequests 按时间顺序列出会话的请求，sessionID 为空时列出全部
func (s *Store) ListRequests(ctx context.Context, sessionID domain.SessionID, limit int) ([]CapturedRequest, error) {
	var rows []CapturedRequest
	q := s.db.WithContext(ctx).Order("id asc")
	if sessionID != "" {
		q = q.Where("session_id = ?", string(sessionID))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveSnapshot 保存调试快照
func (s *Store) SaveSnapshot(ctx context.Context, sessionID domain.SessionID, snap domain.PageSnapshot, format domain.ScreenshotFormat) error {
	row := DebugSnapshot{
		ID:           snap.ID,
		SessionID:    string(sessionID),
		URL:          snap.URL,
		Title:        snap.Title,
		ElementCount: snap.ElementCount,
		Format:       string(format),
		Screenshot:   snap.Screenshot,
		CapturedAt:   snap.CapturedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListSnapshots 最新的快照在前
func (s *Store) ListSnapshots(ctx context.Context, sessionID domain.SessionID) ([]DebugSnapshot, error) {
	var rows []DebugSnapshot
	q := s.db.WithContext(ctx).Order("captured_at desc")
	if sessionID != "" {
		q = q.Where("session_id = ?", string(sessionID))
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func marshalHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	b, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(b)
}
