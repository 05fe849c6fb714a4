package model

import (
	"time"
)

// Owner represents an anonymous user identified by its session token.
// Created lazily on the first request of a session, never deleted.
type Owner struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionToken string    `gorm:"uniqueIndex;type:varchar(64);not null" json:"session_token"`
	URLTTL       int       `gorm:"column:url_ttl;default:1" json:"url_ttl"`
	RowsOnPage   int       `gorm:"default:3" json:"rows_on_page"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for Owner
func (Owner) TableName() string {
	return "owners"
}

// Log represents an immutable audit entry. The owner reference is
// nullable and survives owner-less operations such as sweeps.
type Log struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	OwnerID   *uint     `gorm:"index" json:"owner,omitempty"`
	Process   string    `gorm:"type:varchar(100)" json:"process"`
	Execute   string    `gorm:"type:text" json:"execute"`
}

// TableName specifies the table name for Log
func (Log) TableName() string {
	return "logs"
}
