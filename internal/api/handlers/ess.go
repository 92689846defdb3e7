package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"battery-scheduler/internal/api/models"
	"battery-scheduler/internal/config"
	"battery-scheduler/internal/schedule"
)

// EssHandler serves storage presets and the parameters of the last run.
type EssHandler struct {
	essDir string
	store  *schedule.Store
	log    zerolog.Logger
}

func NewEssHandler(essDir string, store *schedule.Store, logger zerolog.Logger) *EssHandler {
	if abs, err := filepath.Abs(essDir); err == nil {
		essDir = abs
	}
	return &EssHandler{
		essDir: essDir,
		store:  store,
		log:    logger.With().Str("handler", "ess").Logger(),
	}
}

// ListPresets handles GET /api/v1/ess/presets
func (h *EssHandler) ListPresets(c *gin.Context) {
	presets := []models.EssInfo{}

	entries, err := os.ReadDir(h.essDir)
	if err != nil {
		h.log.Debug().Err(err).Str("dir", h.essDir).Msg("no preset directory")
		c.JSON(http.StatusOK, gin.H{"presets": presets})
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(h.essDir, entry.Name())
		info, err := loadEssInfo(path, entry.Name())
		if err != nil {
			h.log.Warn().Err(err).Str("file", path).Msg("skipping invalid preset")
			continue
		}
		presets = append(presets, *info)
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}

// GetParams handles GET /api/v1/ess/params
func (h *EssHandler) GetParams(c *gin.Context) {
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
	p := snap.Params
	states := make([]string, len(p.States))
	for i, s := range p.States {
		states[i] = s.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"time":                     p.Time,
		"ess_total_energy":         p.EssTotalEnergy,
		"ess_min_soc_energy":       p.EssMinSocEnergy,
		"ess_max_soc_energy":       p.EssMaxSocEnergy,
		"ess_initial_energy":       p.EssInitialEnergy,
		"ess_max_charge_energy":    p.EssMaxChargeEnergy,
		"ess_max_discharge_energy": p.EssMaxDischargeEnergy,
		"max_buy_from_grid":        p.MaxBuyFromGrid,
		"export_credit_factor":     p.ExportCreditFactor,
		"horizon_quarters":         p.HorizonQuarters,
		"states":                   states,
	})
}

func loadEssInfo(path, filename string) (*models.EssInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Ess config.EssConfig `yaml:"ess"`
	}
	if err := yaml.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}

	// "home_10kwh.yaml" -> "home_10kwh"
	id := strings.TrimSuffix(filename, ".yaml")
	name := wrapper.Ess.Name
	if name == "" {
		name = id
	}
	return &models.EssInfo{
		ID:   id,
		Name: name,
		File: path,
		Specs: models.EssSpecs{
			CapacityWh:        wrapper.Ess.CapacityWh,
			MaxChargePowerW:   wrapper.Ess.MaxChargePowerW,
			MaxDischargePower: wrapper.Ess.MaxDischargePowerW,
		},
	}, nil
}
