package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"battery-scheduler/internal/api/handlers"
	"battery-scheduler/internal/api/middleware"
	"battery-scheduler/internal/metrics"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/query"
	"battery-scheduler/internal/schedule"
	"battery-scheduler/internal/timedata"
	"battery-scheduler/internal/ws"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Query       *query.Service
	Store       *schedule.Store
	Trigger     handlers.Recomputer
	Timedata    *timedata.Repository
	Forecasts   handlers.ForecastSink
	Metrics     *metrics.Metrics
	ControlMode model.ControlMode
	EssDir      string
	CORSOrigins []string
	StaticDir   string
}

// NewRouter wires the REST, JSON-RPC and WebSocket endpoints. The returned
// ws handler is already attached to the store.
func NewRouter(d Deps, logger zerolog.Logger) (*gin.Engine, *ws.Handler) {
	router := gin.New()
	router.Use(middleware.CORS(d.CORSOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.ErrorHandler(logger))

	var soc handlers.SocReader
	var samples handlers.SampleWriter
	if d.Timedata != nil {
		soc = d.Timedata
		samples = d.Timedata
	}

	scheduleHandler := handlers.NewScheduleHandler(d.Query, d.Store, d.Trigger, soc, logger)
	rpc := handlers.NewRPC(d.Query, d.Trigger, logger)
	stateHandler := handlers.NewStateHandler(d.ControlMode)
	essHandler := handlers.NewEssHandler(d.EssDir, d.Store, logger)

	wsHandler := ws.NewHandler(ws.NewHub(logger), rpc)
	wsHandler.Attach(d.Store)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "has_schedule": d.Store.Current() != nil})
	})
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	router.POST("/jsonrpc", rpc.Handle)
	router.GET("/jsonrpc", gin.WrapH(wsHandler))

	api := router.Group("/api/v1")
	{
		api.GET("/schedule", scheduleHandler.GetSchedule)
		api.GET("/schedule/periods", scheduleHandler.GetPeriods)
		api.GET("/schedule/current", scheduleHandler.GetCurrent)
		api.POST("/schedule/recompute", scheduleHandler.Recompute)

		api.GET("/states", stateHandler.ListStates)
		api.GET("/ess/presets", essHandler.ListPresets)
		api.GET("/ess/params", essHandler.GetParams)

		if samples != nil {
			ingest := handlers.NewIngestHandler(samples, d.Forecasts, d.Trigger, logger)
			api.POST("/telemetry", ingest.PostTelemetry)
			// forecasts read from a file are not accepted over HTTP
			if d.Forecasts != nil {
				api.POST("/forecast", ingest.PostForecast)
			}
		}
	}

	if d.StaticDir != "" {
		router.Static("/assets", d.StaticDir+"/assets")
		// Serve index.html for all non-API routes (SPA routing)
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api") {
				c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
				return
			}
			c.File(d.StaticDir + "/index.html")
		})
	}
	return router, wsHandler
}
