// Package status exposes the recorded cluster state over HTTP: latest node
// observations, the event trail, incident reports and queue verdicts.
package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jtonini/cluster-monitor/internal/pkg/client/postgres"
	"github.com/jtonini/cluster-monitor/internal/pkg/model"
)

// Ledger is the read surface the module serves from.
type Ledger interface {
	GetLatestStatus(ctx context.Context, cluster string) (model.NodeRecords, error)
	GetProblemNodes(ctx context.Context, cluster string) (model.NodeRecords, error)
	GetEvents(ctx context.Context, cluster, node string, since time.Time, severities []string, page, pageSize int) (model.Events, int, error)
	GetProblemHistory(ctx context.Context, cluster string, since time.Time) ([]postgres.ProblemHistoryRow, error)
	GetRecoveryStats(ctx context.Context, cluster string, since time.Time) ([]postgres.RecoveryStatsRow, error)
	GetDowntimeStats(ctx context.Context, cluster string, since time.Time) ([]postgres.DowntimeStatsRow, error)
	GetClusterSummary(ctx context.Context) ([]postgres.ClusterSummaryRow, error)
	GetVerdicts(ctx context.Context, cluster string, since time.Time, page, pageSize int) (model.Verdicts, int, error)
}

type Router struct {
	ledger Ledger
	logger *slog.Logger
}

func NewRouter(ledger Ledger, logger *slog.Logger) *Router {
	return &Router{
		ledger: ledger,
		logger: logger,
	}
}

func (rt *Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1/")
	{
		// GET /api/v1/summary
		v1.GET("/summary", rt.HandlerGetClusterSummary)

		// GET /api/v1/{cluster}/status/{latest,problems,events}
		g := v1.Group("/:cluster/status")
		g.GET("/latest", rt.HandlerGetLatestStatus)
		g.GET("/problems", rt.HandlerGetProblemNodes)
		g.GET("/events", rt.HandlerGetEvents)

		// GET /api/v1/{cluster}/report/{problem-history,recovery,downtime}
		rep := v1.Group("/:cluster/report")
		rep.GET("/problem-history", rt.HandlerGetProblemHistory)
		rep.GET("/recovery", rt.HandlerGetRecoveryStats)
		rep.GET("/downtime", rt.HandlerGetDowntimeStats)

		// GET /api/v1/{cluster}/queue/verdicts
		v1.GET("/:cluster/queue/verdicts", rt.HandlerGetVerdicts)
	}
}
