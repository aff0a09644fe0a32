package api

import (
	"fmt"
	"math"

	"fieldroute/internal/model"
	"fieldroute/internal/opt"
)

// validationError marks client input errors.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

func validatePoint(field string, p *model.GeoPoint) error {
	if p == nil {
		return invalid("%s: location is required", field)
	}
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return invalid("%s: lat must be in [-90,90]", field)
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return invalid("%s: lng must be in [-180,180]", field)
	}
	return nil
}

func validateTasks(tasks []model.TaskIn) error {
	for i, t := range tasks {
		if t.StopID == "" {
			return invalid("tasks[%d]: stopId is required", i)
		}
		if t.Priority < 0 {
			return invalid("tasks[%d]: priority must be >= 0", i)
		}
		if t.NotBefore != nil && t.NotAfter != nil && t.NotAfter.Before(*t.NotBefore) {
			return invalid("tasks[%d]: notAfter before notBefore", i)
		}
	}
	return nil
}

func validateImport(req *model.ImportRequest) error {
	if len(req.Stops) == 0 && len(req.Tasks) == 0 {
		return invalid("stops or tasks required")
	}
	for i := range req.Stops {
		if err := validatePoint(fmt.Sprintf("stops[%d]", i), req.Stops[i].Location); err != nil {
			return err
		}
	}
	return validateTasks(req.Tasks)
}

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	switch req.Strategy {
	case "", opt.NameExact, opt.NameGenetic, opt.NameGreedy:
	default:
		return invalid("invalid strategy: %s (allowed: exact,genetic,greedy)", req.Strategy)
	}
	if o := opt.Objective(req.Constraints.OptimizeFor); !o.Valid() {
		return invalid("invalid optimizeFor: %s (allowed: time,distance,balanced)", req.Constraints.OptimizeFor)
	}
	if req.Constraints.MaxDurationMin < 0 {
		return invalid("maxDurationMin must be >= 0")
	}
	for i := range req.Stops {
		if req.Stops[i].ID == "" {
			return invalid("stops[%d]: id is required for inline stops", i)
		}
		if err := validatePoint(fmt.Sprintf("stops[%d]", i), req.Stops[i].Location); err != nil {
			return err
		}
	}
	if req.Start != nil {
		if err := validatePoint("start", req.Start); err != nil {
			return err
		}
	}
	return validateTasks(req.Tasks)
}

func validateProgress(req *model.ProgressRequest) error {
	return validatePoint("location", &req.Location)
}
