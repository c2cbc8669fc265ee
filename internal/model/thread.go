package model

import "time"

// Thread 代表一个对话线程。
type Thread struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;index" json:"userId"`
	Title     string    `gorm:"type:varchar(255);not null;default:'New Chat'" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Thread) TableName() string {
	return "threads"
}

// Message 代表线程内的一条消息，role 为 "user" 或 "assistant"。
type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ThreadID  string    `gorm:"type:varchar(36);not null;index" json:"threadId"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}
