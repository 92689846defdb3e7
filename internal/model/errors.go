package model

import "errors"

// Degradation causes. Except for ErrNoDevice none of these fail a request;
// they are recorded on the Schedule or view that was degraded.
var (
	ErrForecastUnavailable = errors.New("forecast unavailable")
	ErrInfeasibleSlice     = errors.New("infeasible slice")
	ErrOptimizerTimeout    = errors.New("optimizer timeout")
	ErrHistoricQueryFailed = errors.New("historic query failed")
	ErrCapacityInvalid     = errors.New("capacity invalid")
	ErrNothingToOptimize   = errors.New("nothing to optimize")
	ErrNoDevice            = errors.New("no energy storage device configured")
)
