package models

import "time"

// Queue groups work items and carries the retry policy applied to them.
// EnforceUniqueReference is fixed at creation time.
type Queue struct {
	ID                     int64
	Name                   string
	MaxRetries             int
	EnforceUniqueReference bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
