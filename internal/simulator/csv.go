package simulator

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"
)

func WriteLedgerCSV(path string, ledger []LedgerRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return EncodeLedgerCSV(f, ledger)
}

func EncodeLedgerCSV(out io.Writer, ledger []LedgerRow) error {
	w := csv.NewWriter(out)
	defer w.Flush()

	header := []string{
		"index",
		"interval_start",
		"interval_end",
		"price",
		"state",
		"optimize_by",
		"forecast",
		"production_wh",
		"consumption_wh",
		"ess_wh",
		"grid_wh",
		"ess_initial_wh",
		"infeasible",
		"cost",
		"cum_cost",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range ledger {
		row := []string{
			strconv.Itoa(r.Index),
			fmtTime(r.IntervalStart),
			fmtTime(r.IntervalEnd),
			fmtFloat(r.Price),
			r.State.String(),
			string(r.OptimizeBy),
			strconv.FormatBool(r.Forecast),
			strconv.Itoa(r.Production),
			strconv.Itoa(r.Consumption),
			strconv.Itoa(r.Ess),
			strconv.Itoa(r.Grid),
			strconv.Itoa(r.EssInitial),
			strconv.FormatBool(r.Infeasible),
			fmtFloat(r.Cost),
			fmtFloat(r.CumCost),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
