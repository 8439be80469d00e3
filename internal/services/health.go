package services

import (
	"time"

	"github.com/latticeworks/facet/internal/utils"
	"gorm.io/gorm"
)

// HealthStatus is the aggregate health report served on /healthz and
// consumed by the healthcheck binary.
type HealthStatus struct {
	OK        bool      `json:"ok"`
	Database  string    `json:"database"`
	Backend   string    `json:"backend"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckHealth pings the database connection and the execution backend's TCP
// endpoint. The service is healthy only when both respond.
func CheckHealth(db *gorm.DB, backendURL string) *HealthStatus {
	status := &HealthStatus{
		Database:  "ok",
		Backend:   "ok",
		Timestamp: time.Now(),
	}

	sqlDB, err := db.DB()
	if err != nil {
		status.Database = err.Error()
	} else if err := sqlDB.Ping(); err != nil {
		status.Database = err.Error()
	}

	if err := utils.PingService(backendURL, 3*time.Second); err != nil {
		status.Backend = err.Error()
	}

	status.OK = status.Database == "ok" && status.Backend == "ok"
	return status
}
