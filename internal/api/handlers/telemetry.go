package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"battery-scheduler/internal/api/models"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/timedata"
)

// SampleWriter stores telemetry samples.
type SampleWriter interface {
	Add(ctx context.Context, samples ...timedata.Sample) error
}

// ForecastSink receives pushed forecasts.
type ForecastSink interface {
	Set(fc model.ForecastSnapshot)
}

// IngestHandler accepts telemetry and forecasts pushed by the site.
type IngestHandler struct {
	samples   SampleWriter
	forecasts ForecastSink
	trigger   Recomputer
	log       zerolog.Logger
}

func NewIngestHandler(samples SampleWriter, forecasts ForecastSink, trigger Recomputer, logger zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		samples:   samples,
		forecasts: forecasts,
		trigger:   trigger,
		log:       logger.With().Str("handler", "ingest").Logger(),
	}
}

// PostTelemetry handles POST /api/v1/telemetry
func (h *IngestHandler) PostTelemetry(c *gin.Context) {
	var req models.TelemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}
	samples := make([]timedata.Sample, len(req.Samples))
	for i, s := range req.Samples {
		samples[i] = timedata.Sample{Channel: s.Channel, Time: s.Time, Value: *s.Value}
	}
	if err := h.samples.Add(c.Request.Context(), samples...); err != nil {
		h.log.Error().Err(err).Int("samples", len(samples)).Msg("store telemetry")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "could not store telemetry",
			},
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"stored": len(samples)})
}

// PostForecast handles POST /api/v1/forecast
func (h *IngestHandler) PostForecast(c *gin.Context) {
	var fc model.ForecastSnapshot
	if err := c.ShouldBindJSON(&fc); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}
	if fc.Start.IsZero() || len(fc.Consumption) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INVALID_FORECAST",
				Message: "start and consumption are required",
			},
		})
		return
	}
	h.forecasts.Set(fc)
	queued := h.trigger.Request("forecast")
	h.log.Info().Time("start", fc.Start).Int("quarters", len(fc.Consumption)).Bool("queued", queued).Msg("forecast received")
	c.JSON(http.StatusAccepted, models.RecomputeResponse{Queued: queued, Running: h.trigger.Running()})
}
