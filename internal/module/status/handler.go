package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jtonini/cluster-monitor/internal/pkg/common/paging"
	"github.com/jtonini/cluster-monitor/internal/pkg/response"
)

const (
	defaultEventWindow  = 24 * time.Hour
	defaultReportWindow = 7 * 24 * time.Hour
)

// parseSince reads the "since" query parameter (RFC 3339) and falls back to
// now minus the given window.
func parseSince(c *gin.Context, window time.Duration) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return time.Now().Add(-window), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid since, expected RFC 3339 timestamp"})
		return time.Time{}, false
	}
	return t, true
}

// HandlerGetLatestStatus returns the most recent observation of every node in
// a cluster.
// @Summary Latest node status for one cluster
// @Description Most recent observation per node: raw scheduler state, health category and resource allocation.
// @Tags status
// @Produce json
// @Param cluster path string true "cluster name" example("spydur")
// @Success 200 {object} response.Response{results=model.NodeRecords}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/{cluster}/status/latest [get]
func (rt *Router) HandlerGetLatestStatus(c *gin.Context) {
	cluster := c.Param("cluster")
	if cluster == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing cluster in path"})
		return
	}
	records, err := rt.ledger.GetLatestStatus(c.Request.Context(), cluster)
	if err != nil {
		rt.logger.Error("unable to get latest status", "cluster", cluster, "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "unable to get latest status"})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: len(records), Results: records})
}

// HandlerGetProblemNodes returns the nodes whose latest observation is not
// healthy.
// @Summary Current problem nodes for one cluster
// @Tags status
// @Produce json
// @Param cluster path string true "cluster name" example("spydur")
// @Success 200 {object} response.Response{results=model.NodeRecords}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/{cluster}/status/problems [get]
func (rt *Router) HandlerGetProblemNodes(c *gin.Context) {
	cluster := c.Param("cluster")
	if cluster == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing cluster in path"})
		return
	}
	records, err := rt.ledger.GetProblemNodes(c.Request.Context(), cluster)
	if err != nil {
		rt.logger.Error("unable to get problem nodes", "cluster", cluster, "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "unable to get problem nodes"})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: len(records), Results: records})
}

// HandlerGetEvents returns the event trail for a cluster, optionally filtered
// by node and severity.
// @Summary Node event trail
// @Tags status
// @Produce json
// @Param cluster path string true "cluster name" example("spydur")
// @Param node query string false "node name filter" example("spdr05")
// @Param severity query []string false "severity filter, repeatable" collectionFormat(multi)
// @Param since query string false "RFC 3339 lower bound, default 24h ago"
// @Param page query int false "page number (from 1)" default(1) minimum(1)
// @Param page_size query int false "items per page" default(20) minimum(1) maximum(100)
// @Success 200 {object} response.Response{results=model.Events}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/{cluster}/status/events [get]
func (rt *Router) HandlerGetEvents(c *gin.Context) {
	cluster := c.Param("cluster")
	if cluster == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing cluster in path"})
		return
	}
	since, ok := parseSince(c, defaultEventWindow)
	if !ok {
		return
	}
	var pq paging.PagingQuery
	_ = c.ShouldBindQuery(&pq)
	pq.SetDefaults(1, 20, 100)

	events, total, err := rt.ledger.GetEvents(c.Request.Context(), cluster,
		c.Query("node"), since, c.QueryArray("severity"), pq.Page, pq.PageSize)
	if err != nil {
		rt.logger.Error("unable to get events", "cluster", cluster, "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "unable to get events"})
		return
	}
	prev, next := response.BuildPageLinks(c.Request.URL, pq.Page, pq.PageSize, total)
	c.JSON(http.StatusOK, response.Response{Count: total, Previous: prev, Next: next, Results: events})
}

// HandlerGetProblemHistory returns how often each node went down in the
// window.
// @Summary Problem frequency per node
// @Tags report
// @Produce json
// @Param cluster path string true "cluster name" example("spydur")
// @Param since query string false "RFC 3339 lower bound, default 7 days ago"
// @Success 200 {object} response.Response{results=[]postgres.ProblemHistoryRow}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/{cluster}/report/problem-history [get]
func (rt *Router) HandlerGetProblemHistory(c *gin.Context) {
	cluster := c.Param("cluster")
	if cluster == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing cluster in path"})
		return
	}
	since, ok := parseSince(c, defaultReportWindow)
	if !ok {
		return
	}
	rows, err := rt.ledger.GetProblemHistory(c.Request.Context(), cluster, since)
	if err != nil {
		rt.logger.Error("unable to get problem history", "cluster", cluster, "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "unable to get problem history"})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: len(rows), Results: rows})
}

// HandlerGetRecoveryStats returns recovery attempt counts and success rates
// per node.
// @Summary Recovery statistics per node
// @Tags report
// @Produce json
// @Param cluster path string true "cluster name" example("spydur")
// @Param since query string false "RFC 3339 lower bound, default 7 days ago"
// @Success 200 {object} response.Response{results=[]postgres.RecoveryStatsRow}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/{cluster}/report/recovery [get]
func (rt *Router) HandlerGetRecoveryStats(c *gin.Context) {
	cluster := c.Param("cluster")
	if cluster == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing cluster in path"})
		return
	}
	since, ok := parseSince(c, defaultReportWindow)
	if !ok {
		return
	}
	rows, err := rt.ledger.GetRecoveryStats(c.Request.Context(), cluster, since)
	if err != nil {
		rt.logger.Error("unable to get recovery stats", "cluster", cluster, "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "unable to get recovery stats"})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: len(rows), Results: rows})
}

// HandlerGetDowntimeStats returns per-node downtime derived from incident
// open and close times.
// @Summary Downtime per node
// @Tags report
// @Produce json
// @Param cluster path string true "cluster name" example("spydur")
// @Param since query string false "RFC 3339 lower bound, default 7 days ago"
// @Success 200 {object} response.Response{results=[]postgres.DowntimeStatsRow}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/{cluster}/report/downtime [get]
func (rt *Router) HandlerGetDowntimeStats(c *gin.Context) {
	cluster := c.Param("cluster")
	if cluster == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing cluster in path"})
		return
	}
	since, ok := parseSince(c, defaultReportWindow)
	if !ok {
		return
	}
	rows, err := rt.ledger.GetDowntimeStats(c.Request.Context(), cluster, since)
	if err != nil {
		rt.logger.Error("unable to get downtime stats", "cluster", cluster, "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "unable to get downtime stats"})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: len(rows), Results: rows})
}

// HandlerGetClusterSummary returns health counts per cluster from the latest
// observations.
// @Summary Health summary across all clusters
// @Tags status
// @Produce json
// @Success 200 {object} response.Response{results=[]postgres.ClusterSummaryRow}
// @Failure 500 {object} response.Response
// @Router /api/v1/summary [get]
func (rt *Router) HandlerGetClusterSummary(c *gin.Context) {
	rows, err := rt.ledger.GetClusterSummary(c.Request.Context())
	if err != nil {
		rt.logger.Error("unable to get cluster summary", "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "unable to get cluster summary"})
		return
	}
	c.JSON(http.StatusOK, response.Response{Count: len(rows), Results: rows})
}

// HandlerGetVerdicts returns queue diagnosis verdicts for a cluster.
// @Summary Pending-queue diagnosis verdicts
// @Tags queue
// @Produce json
// @Param cluster path string true "cluster name" example("spydur")
// @Param since query string false "RFC 3339 lower bound, default 24h ago"
// @Param page query int false "page number (from 1)" default(1) minimum(1)
// @Param page_size query int false "items per page" default(20) minimum(1) maximum(100)
// @Success 200 {object} response.Response{results=model.Verdicts}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/{cluster}/queue/verdicts [get]
func (rt *Router) HandlerGetVerdicts(c *gin.Context) {
	cluster := c.Param("cluster")
	if cluster == "" {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "missing cluster in path"})
		return
	}
	since, ok := parseSince(c, defaultEventWindow)
	if !ok {
		return
	}
	var pq paging.PagingQuery
	_ = c.ShouldBindQuery(&pq)
	pq.SetDefaults(1, 20, 100)

	verdicts, total, err := rt.ledger.GetVerdicts(c.Request.Context(), cluster, since, pq.Page, pq.PageSize)
	if err != nil {
		rt.logger.Error("unable to get verdicts", "cluster", cluster, "err", err)
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "unable to get verdicts"})
		return
	}
	prev, next := response.BuildPageLinks(c.Request.URL, pq.Page, pq.PageSize, total)
	c.JSON(http.StatusOK, response.Response{Count: total, Previous: prev, Next: next, Results: verdicts})
}
