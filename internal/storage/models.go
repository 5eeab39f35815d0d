package storage

import "time"

// CapturedRequest 捕获的网络请求
type CapturedRequest struct {
	ID              uint   `gorm:"primaryKey"`
	SessionID       string `gorm:"index;size:64"`
	RequestID       string `gorm:"index;size:64"`
	URL             string `gorm:"size:2048"`
	Method          string `gorm:"size:16"`
	State           string `gorm:"size:16"`
	Status          int
	MimeType        string `gorm:"size:128"`
	ResourceType    string `gorm:"size:32"`
	ErrorText       string `gorm:"size:512"`
	RequestHeaders  string
	RequestBody     []byte
	ResponseHeaders string
	StartedAt       time.Time
	FinishedAt      time.Time
	CreatedAt       time.Time
}

// DebugSnapshot 页面调试快照
type DebugSnapshot struct {
	ID           string `gorm:"primaryKey;size:36"`
	SessionID    string `gorm:"index;size:64"`
	URL          string `gorm:"size:2048"`
	Title        string `gorm:"size:512"`
	ElementCount int
	Format       string `gorm:"size:8"`
	Screenshot   []byte
	CapturedAt   time.Time `gorm:"index"`
}
