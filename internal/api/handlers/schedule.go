package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"battery-scheduler/internal/analysis"
	"battery-scheduler/internal/api/models"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/query"
	"battery-scheduler/internal/schedule"
)

// Recomputer queues optimizer runs.
type Recomputer interface {
	Request(source string) bool
	Running() bool
}

// SocReader returns the live SoC [%], nil when unknown.
type SocReader interface {
	LatestSoc(ctx context.Context) (*int, error)
}

// ScheduleHandler serves the published schedule.
type ScheduleHandler struct {
	query   *query.Service
	store   *schedule.Store
	control *schedule.Control
	trigger Recomputer
	soc     SocReader
	now     func() time.Time
	log     zerolog.Logger
}

func NewScheduleHandler(q *query.Service, store *schedule.Store, trigger Recomputer, soc SocReader, logger zerolog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		query:   q,
		store:   store,
		control: schedule.NewControl(store),
		trigger: trigger,
		soc:     soc,
		now:     time.Now,
		log:     logger.With().Str("handler", "schedule").Logger(),
	}
}

// GetSchedule handles GET /api/v1/schedule
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	snap := h.store.Current()
	view := h.query.ViewOf(c.Request.Context(), snap, h.now())

	resp := models.ScheduleResponse{Schedule: view.Schedule}
	for _, d := range view.Degraded {
		resp.Degraded = append(resp.Degraded, d.Error())
	}
	if snap != nil {
		s := snap.Schedule
		resp.RunID = s.RunID
		resp.Seq = snap.Seq
		resp.ComputedAt = lo.ToPtr(snap.ComputedAt)
		resp.TotalCost = lo.ToPtr(s.TotalCost)
		resp.TimedOut = s.TimedOut
		for _, d := range s.Degraded {
			resp.Degraded = append(resp.Degraded, d.Error())
		}
		stats := analysis.Summarize(s.Horizon(), snap.Params)
		resp.Prices = &models.PriceSummary{
			Count:        stats.Count,
			Min:          stats.Min,
			Max:          stats.Max,
			Mean:         stats.Mean,
			StdDev:       stats.StdDev,
			SpreadP95P05: stats.SpreadP95P05,
			CycleValue:   stats.CycleValue,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetPeriods handles GET /api/v1/schedule/periods
func (h *ScheduleHandler) GetPeriods(c *gin.Context) {
	snap := h.store.Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "NO_SCHEDULE",
				Message: "no schedule has been published yet",
			},
		})
		return
	}
	periods := make([]models.PeriodInfo, 0, len(snap.Schedule.Periods))
	for _, p := range snap.Schedule.Periods {
		info := models.PeriodInfo{
			Time:       p.Time,
			End:        p.End(),
			State:      p.State.String(),
			OptimizeBy: string(p.OptimizeBy),
			Price:      p.Price,
			EssInitial: p.EssInitial,
			Forecast:   p.Forecast,
		}
		if total, ok := p.Total(); ok {
			info.Grid = lo.ToPtr(total.Grid)
			info.Ess = lo.ToPtr(total.Ess)
		}
		periods = append(periods, info)
	}
	c.JSON(http.StatusOK, gin.H{"run_id": snap.Schedule.RunID, "periods": periods})
}

// GetCurrent handles GET /api/v1/schedule/current
func (h *ScheduleHandler) GetCurrent(c *gin.Context) {
	now := h.now()
	var soc *int
	if h.soc != nil {
		var err error
		if soc, err = h.soc.LatestSoc(c.Request.Context()); err != nil {
			h.log.Warn().Err(err).Msg("read soc")
		}
	}

	resp := models.CurrentResponse{Time: model.RoundDownToQuarter(now), Soc: soc}
	d := h.control.Decide(now, soc)
	if d.Flow != nil {
		resp.Grid = lo.ToPtr(model.ToPower(d.Flow.Grid))
		resp.Ess = lo.ToPtr(model.ToPower(d.Flow.Ess))
	}
	resp.PlannedState = d.Planned.String()
	resp.State = d.State.String()
	resp.StateValue = int(d.State)
	c.JSON(http.StatusOK, resp)
}

// Recompute handles POST /api/v1/schedule/recompute
func (h *ScheduleHandler) Recompute(c *gin.Context) {
	var req models.RecomputeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: models.ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: err.Error(),
				},
			})
			return
		}
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}
	queued := h.trigger.Request(source)
	h.log.Info().Str("source", source).Bool("queued", queued).Msg("recompute requested")
	c.JSON(http.StatusAccepted, models.RecomputeResponse{Queued: queued, Running: h.trigger.Running()})
}
