package model

import (
	"time"
)

type ProxyIps struct {
	UniqueID     string `alias:"proxy_ips.unique_id"`
	IP           string `sql:"primary_key" alias:"proxy_ips.ip"`
	Port         int32  `sql:"primary_key"`
	Protocol     string `sql:"primary_key"`
	Anonymity    int32
	Country      string
	Region       string
	City         string
	Isp          string
	Source       string
	Speed        int32
	ValidatedAt  time.Time
	SuccessCount int32
	FailedCount  int32
	SuccessRatio float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
