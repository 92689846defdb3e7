package optimizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/simulator"
)

const dumpFormat = "%-25s %-10s %-13s %14s %10s %10s %11s %12s %-15s %18s %10s"

const noValue = "-"

// Dump renders p and s as a Params line followed by a fixed-width table,
// one row per quarter. ParseDump reads it back, also out of JSON log lines.
func Dump(p model.Params, s *model.Schedule) []string {
	lines := []string{
		p.LogString(),
		fmt.Sprintf(dumpFormat, "Time", "OptimizeBy", "EssMaxEnergy", "MaxBuyFromGrid", "EssInitial",
			"Production", "Consumption", "Price", "State", "EssChargeDischarge", "Grid"),
	}
	if s.Empty() {
		return lines
	}
	for _, period := range s.Periods {
		ess := period.EssInitial
		for i, q := range period.Quarters {
			production, consumption, price, charge, grid := noValue, noValue, noValue, noValue, noValue
			if period.Flows != nil {
				f := period.Flows[i]
				ess = f.EssInitial
				production = strconv.Itoa(f.Production)
				consumption = strconv.Itoa(f.Consumption)
				price = strconv.FormatFloat(q.Price, 'f', -1, 64)
				charge = strconv.Itoa(f.Ess)
				grid = strconv.Itoa(f.Grid)
			}
			lines = append(lines, fmt.Sprintf(dumpFormat,
				q.Time.UTC().Format(time.RFC3339),
				period.OptimizeBy,
				fmt.Sprintf("%d/%d", q.EssMaxChargeEnergy, q.EssMaxDischargeEnergy),
				strconv.Itoa(q.MaxBuyFromGrid),
				strconv.Itoa(ess),
				production,
				consumption,
				price,
				period.State,
				charge,
				grid,
			))
		}
	}
	return lines
}

// DumpRow is one parsed table row.
type DumpRow struct {
	Time                  time.Time
	OptimizeBy            model.OptimizeBy
	EssMaxChargeEnergy    int
	EssMaxDischargeEnergy int
	MaxBuyFromGrid        int
	EssInitial            int
	Production            int
	Consumption           int
	Price                 float64
	State                 model.State
	Ess                   int
	Grid                  int
	Missing               bool
}

var errNoParams = errors.New("dump has no Params line")

// ParseDump reads a dump written by Dump, either plain or as the message
// field of JSON log lines. Lines that are neither are skipped.
func ParseDump(r io.Reader) (model.Params, []DumpRow, error) {
	var (
		p      model.Params
		found  bool
		rows   []DumpRow
		lineNo int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "{") {
			var entry struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			line = strings.TrimSpace(entry.Message)
		}
		if i := strings.Index(line, "Params "); i >= 0 {
			parsed, err := parseParams(line[i+len("Params "):])
			if err != nil {
				return model.Params{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			// a new run starts; keep only the last one
			p, found, rows = parsed, true, nil
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 11 || fields[0] == "Time" {
			continue
		}
		row, err := parseRow(fields)
		if err != nil {
			return model.Params{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return model.Params{}, nil, err
	}
	if !found {
		return model.Params{}, nil, errNoParams
	}
	return p, rows, nil
}

// Replay re-simulates a parsed dump.
func Replay(p model.Params, rows []DumpRow) (*simulator.Result, error) {
	if len(rows) == 0 {
		return nil, errors.New("dump has no rows")
	}
	h := model.Horizon{Start: rows[0].Time, Quarters: make([]model.QuarterPeriod, len(rows))}
	var a simulator.Assignment
	for i, r := range rows {
		h.Quarters[i] = model.QuarterPeriod{
			Time:                  r.Time,
			Production:            r.Production,
			Consumption:           r.Consumption,
			Price:                 r.Price,
			EssMaxChargeEnergy:    r.EssMaxChargeEnergy,
			EssMaxDischargeEnergy: r.EssMaxDischargeEnergy,
			MaxBuyFromGrid:        r.MaxBuyFromGrid,
			Missing:               r.Missing,
		}
		last := len(a) - 1
		if last >= 0 && a[last].State == r.State && a[last].OptimizeBy == r.OptimizeBy &&
			rows[i-1].Missing == r.Missing && r.Time.Minute() != 0 {
			a[last].To = i + 1
			continue
		}
		a = append(a, simulator.Unit{From: i, To: i + 1, State: r.State, OptimizeBy: r.OptimizeBy})
	}
	p.Time = h.Start
	p.HorizonQuarters = len(rows)
	return simulator.New().Run(h, a, p)
}

func parseParams(s string) (model.Params, error) {
	p := model.Params{Resolution: model.QuarterDuration}
	for _, field := range strings.Fields(s) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return p, fmt.Errorf("invalid params field %q", field)
		}
		var err error
		switch key {
		case "time":
			p.Time, err = time.Parse(time.RFC3339, value)
		case "essTotalEnergy":
			p.EssTotalEnergy, err = strconv.Atoi(value)
		case "essMinSocEnergy":
			p.EssMinSocEnergy, err = strconv.Atoi(value)
		case "essMaxSocEnergy":
			p.EssMaxSocEnergy, err = strconv.Atoi(value)
		case "essInitialEnergy":
			p.EssInitialEnergy, err = strconv.Atoi(value)
		case "essMaxChargeEnergy":
			p.EssMaxChargeEnergy, err = strconv.Atoi(value)
		case "essMaxDischargeEnergy":
			p.EssMaxDischargeEnergy, err = strconv.Atoi(value)
		case "maxBuyFromGrid":
			p.MaxBuyFromGrid, err = strconv.Atoi(value)
		case "exportCreditFactor":
			p.ExportCreditFactor, err = strconv.ParseFloat(value, 64)
		case "horizonQuarters":
			p.HorizonQuarters, err = strconv.Atoi(value)
		case "states":
			p.States = nil
			for _, name := range strings.Split(value, ",") {
				st, perr := model.ParseState(name)
				if perr != nil {
					return p, perr
				}
				p.States = append(p.States, st)
			}
		}
		if err != nil {
			return p, fmt.Errorf("params %s: %w", key, err)
		}
	}
	return p, nil
}

func parseRow(f []string) (DumpRow, error) {
	var (
		r   DumpRow
		err error
	)
	if r.Time, err = time.Parse(time.RFC3339, f[0]); err != nil {
		return r, err
	}
	r.OptimizeBy = model.OptimizeBy(f[1])
	if r.OptimizeBy != model.OptimizeByHour && r.OptimizeBy != model.OptimizeByQuarter {
		return r, fmt.Errorf("invalid optimize-by %q", f[1])
	}
	charge, discharge, ok := strings.Cut(f[2], "/")
	if !ok {
		return r, fmt.Errorf("invalid ess max energy %q", f[2])
	}
	if r.EssMaxChargeEnergy, err = strconv.Atoi(charge); err != nil {
		return r, err
	}
	if r.EssMaxDischargeEnergy, err = strconv.Atoi(discharge); err != nil {
		return r, err
	}
	if r.MaxBuyFromGrid, err = strconv.Atoi(f[3]); err != nil {
		return r, err
	}
	if r.EssInitial, err = strconv.Atoi(f[4]); err != nil {
		return r, err
	}
	if r.State, err = model.ParseState(f[8]); err != nil {
		return r, err
	}
	if f[5] == noValue {
		r.Missing = true
		return r, nil
	}
	ints := []*int{&r.Production, &r.Consumption, &r.Ess, &r.Grid}
	for i, idx := range []int{5, 6, 9, 10} {
		if *ints[i], err = strconv.Atoi(f[idx]); err != nil {
			return r, fmt.Errorf("column %d: %w", idx, err)
		}
	}
	if r.Price, err = strconv.ParseFloat(f[7], 64); err != nil {
		return r, err
	}
	return r, nil
}
