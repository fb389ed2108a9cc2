package conflict

import "fmt"

// CriticalConflictError blocks a window change that involves maintenance
// until the caller overrides it.
type CriticalConflictError struct {
	Conflicts []Conflict      `json:"conflicts"`
	Impacts   []BookingImpact `json:"impacts"`
}

func (e *CriticalConflictError) Error() string {
	return fmt.Sprintf("critical conflict requires override: %d overlapping windows, %d affected bookings",
		len(e.Conflicts), len(e.Impacts))
}
