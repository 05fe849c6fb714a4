package model

import (
	"fmt"
	"time"
)

// Rule represents a single shortening rule: an original link reachable
// under a generated alias until the expire date passes.
type Rule struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	Link       string    `gorm:"type:varchar(2048);not null" json:"link"`
	Alias      string    `gorm:"type:varchar(101);not null" json:"alias"`
	Subpart    string    `gorm:"uniqueIndex;type:varchar(50);not null" json:"subpart"`
	ExpireDate time.Time `gorm:"index;not null" json:"expire_date"`
	StrLimit   int       `gorm:"default:10" json:"str_limit"`
	OwnerID    uint      `gorm:"index;not null" json:"owner"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for Rule
func (Rule) TableName() string {
	return "rules"
}

// IsExpired reports whether the rule is eligible for deletion as of the
// given date (expire date on or before it)
func (r *Rule) IsExpired(asOf time.Time) bool {
	return !r.ExpireDate.After(DateOf(asOf))
}

// String returns the display form: truncated link plus alias
func (r *Rule) String() string {
	link := r.Link
	suffix := ""
	if len(link) > r.StrLimit {
		link = link[:r.StrLimit]
		suffix = "..."
	}
	return fmt.Sprintf("URL: %s%s %s", link, suffix, r.Alias)
}

// Summary returns the serialized listing form of the rule
func (r *Rule) Summary() RuleSummary {
	return RuleSummary{
		ID:         r.ID,
		Link:       r.Link,
		Alias:      r.Alias,
		Owner:      r.OwnerID,
		Subpart:    r.Subpart,
		StrLimit:   r.StrLimit,
		ExpireDate: r.ExpireDate,
	}
}

// RuleSummary is the wire form of a rule used by listings and the REST API
type RuleSummary struct {
	ID         int64     `json:"id"`
	Link       string    `json:"link"`
	Alias      string    `json:"alias"`
	Owner      uint      `json:"owner"`
	Subpart    string    `json:"subpart"`
	StrLimit   int       `json:"str_limit"`
	ExpireDate time.Time `json:"expire_date"`
}

// Collection links an owner to one of its rules. The rule reference is
// nullable so a deleted rule leaves the owner side intact.
type Collection struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   uint      `gorm:"index;not null" json:"owner"`
	RuleID    *int64    `gorm:"index" json:"rule,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for Collection
func (Collection) TableName() string {
	return "collections"
}

// DateOf truncates a timestamp to its calendar date
func DateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
