package model

import (
	"time"
)

type IngestAttempts struct {
	CacheKey  string `sql:"primary_key"`
	Attempts  int32
	UpdatedAt time.Time
}
