package restapi

import (
	"time"

	"transitsync.dev/internal/models"
)

// StaleDetector flags vehicles whose last fix is old enough that riders
// should not trust the position, well before the sync evicts them.
type StaleDetector struct {
	threshold time.Duration
}

func NewStaleDetector() *StaleDetector {
	return &StaleDetector{
		threshold: 5 * time.Minute,
	}
}

func (d *StaleDetector) WithThreshold(threshold time.Duration) *StaleDetector {
	d.threshold = threshold
	return d
}

func (d *StaleDetector) Check(vehicle models.VehiclePosition, currentTime time.Time) bool {
	if vehicle.Timestamp.IsZero() {
		return true
	}
	return d.Age(vehicle, currentTime) > d.threshold
}

func (d *StaleDetector) Age(vehicle models.VehiclePosition, currentTime time.Time) time.Duration {
	if vehicle.Timestamp.IsZero() {
		return d.threshold + 1
	}
	return currentTime.Sub(vehicle.Timestamp)
}
