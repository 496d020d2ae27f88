package workers

import "car_scrooper/models"

// LogFunc persists a worker message to the run log
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}
