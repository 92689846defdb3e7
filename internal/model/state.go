package model

import (
	"fmt"
	"strings"
)

// State is the operating mode assigned to a period.
// The numeric values are part of the wire format (getSchedule "state" field
// and the StateMachine history channel); keep them stable.
type State int

const (
	DelayDischarge State = 0
	Balancing      State = 1
	ChargeGrid     State = 3
	DischargeGrid  State = 4
)

// DefaultState is the state used whenever nothing better is known.
const DefaultState = Balancing

// Target selects what the storage tries to do within a slice.
type Target int

const (
	// TargetResidual follows production minus consumption.
	TargetResidual Target = iota
	// TargetMaxCharge charges as fast as the limits allow.
	TargetMaxCharge
	// TargetMaxDischarge discharges as fast as the limits allow.
	TargetMaxDischarge
)

// Rule is the constraint attached to a State: what the storage aims for and
// which directions it may move in.
type Rule struct {
	Target         Target
	AllowCharge    bool
	AllowDischarge bool
}

var rules = map[State]Rule{
	Balancing:      {Target: TargetResidual, AllowCharge: true, AllowDischarge: true},
	DelayDischarge: {Target: TargetResidual, AllowCharge: true, AllowDischarge: false},
	ChargeGrid:     {Target: TargetMaxCharge, AllowCharge: true, AllowDischarge: false},
	DischargeGrid:  {Target: TargetMaxDischarge, AllowCharge: false, AllowDischarge: true},
}

var stateNames = map[State]string{
	Balancing:      "BALANCING",
	DelayDischarge: "DELAY_DISCHARGE",
	ChargeGrid:     "CHARGE_GRID",
	DischargeGrid:  "DISCHARGE_GRID",
}

// displayOrder is used for tables and for the deterministic tie-break; it has
// no physical meaning.
var displayOrder = map[State]int{
	Balancing:      0,
	DelayDischarge: 1,
	ChargeGrid:     2,
	DischargeGrid:  3,
}

// RuleOf returns the constraint rule of s. Unknown states behave like the
// default state.
func RuleOf(s State) Rule {
	if r, ok := rules[s]; ok {
		return r
	}
	return rules[DefaultState]
}

func (s State) Valid() bool {
	_, ok := rules[s]
	return ok
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATE_%d", int(s))
}

// DisplayOrder returns the position of s in tables.
func (s State) DisplayOrder() int {
	if o, ok := displayOrder[s]; ok {
		return o
	}
	return len(displayOrder)
}

// ParseState accepts either the name ("CHARGE_GRID") or the wire number ("3").
func ParseState(v string) (State, error) {
	v = strings.TrimSpace(strings.ToUpper(v))
	for s, n := range stateNames {
		if n == v {
			return s, nil
		}
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err == nil && State(i).Valid() {
		return State(i), nil
	}
	return DefaultState, fmt.Errorf("unknown state %q", v)
}

// ControlMode selects the set of states the optimizer may use.
type ControlMode string

const (
	ControlModeDelayDischarge    ControlMode = "delay_discharge"
	ControlModeChargeConsumption ControlMode = "charge_consumption"
	ControlModeChargeDischarge   ControlMode = "charge_discharge"
)

// States returns the states offered to the optimizer, default state first.
func (m ControlMode) States() ([]State, error) {
	switch m {
	case ControlModeDelayDischarge:
		return []State{Balancing, DelayDischarge}, nil
	case ControlModeChargeConsumption, "":
		return []State{Balancing, DelayDischarge, ChargeGrid}, nil
	case ControlModeChargeDischarge:
		return []State{Balancing, DelayDischarge, ChargeGrid, DischargeGrid}, nil
	default:
		return nil, fmt.Errorf("unknown control mode %q", string(m))
	}
}

// AllStates lists every state in display order.
func AllStates() []State {
	return []State{Balancing, DelayDischarge, ChargeGrid, DischargeGrid}
}

// Decision is what the control loop applies in one quarter, taken from a
// single published schedule.
type Decision struct {
	// Covered is false when no schedule covers the quarter; Period and Flow
	// are then zero.
	Covered bool
	Period  Period
	// Flow is nil for periods without forecast.
	Flow    *EnergyFlow
	Planned State
	// State is Planned corrected against the live SoC.
	State State
	RunID string
}
