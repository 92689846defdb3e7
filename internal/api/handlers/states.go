package handlers

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"battery-scheduler/internal/api/models"
	"battery-scheduler/internal/model"
)

var stateDescriptions = map[model.State]string{
	model.Balancing:      "Storage follows production minus consumption.",
	model.DelayDischarge: "Storage may charge from surplus but does not discharge.",
	model.ChargeGrid:     "Storage charges at full power, buying from the grid if needed.",
	model.DischargeGrid:  "Storage discharges at full power, exporting the surplus.",
}

// StateHandler lists the operating states.
type StateHandler struct {
	enabled []model.State
}

// NewStateHandler marks the states of the configured control mode as enabled.
func NewStateHandler(mode model.ControlMode) *StateHandler {
	enabled, _ := mode.States()
	return &StateHandler{enabled: enabled}
}

// ListStates handles GET /api/v1/states
func (h *StateHandler) ListStates(c *gin.Context) {
	states := []models.StateInfo{}
	for _, s := range model.AllStates() {
		rule := model.RuleOf(s)
		states = append(states, models.StateInfo{
			Name:           s.String(),
			Value:          int(s),
			Description:    stateDescriptions[s],
			AllowCharge:    rule.AllowCharge,
			AllowDischarge: rule.AllowDischarge,
			Enabled:        slices.Contains(h.enabled, s),
		})
	}
	c.JSON(http.StatusOK, gin.H{"states": states, "default": model.DefaultState.String()})
}
