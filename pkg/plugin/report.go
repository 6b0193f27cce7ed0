package plugin

import (
	"time"
	_ "time/tzdata"
)

// TimeLayout formats civil timestamps in timing reports.
const TimeLayout = "2006-01-02 15:04:05.000000-07:00"

// TestMessage is published on the liveness topic in the base variant.
const TestMessage = "object detection plugin is running"

// ErrorReport is published on the error topic when a run fails.
type ErrorReport struct {
	Status       string `json:"status"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Traceback    string `json:"traceback"`
}

// TimingReport is published on the timing topic in the extended variant.
type TimingReport struct {
	PluginStart      string `json:"plugin_start_time_chicago"`
	PluginFinish     string `json:"plugin_finish_time_chicago"`
	ImageTimestamp   string `json:"image_timestamp_chicago"`
	ImageTimestampNS int64  `json:"image_timestamp_ns"`
	ModelType        string `json:"model_type"`
}

// NewTimingReport formats the run's instants in loc.
func NewTimingReport(start, finish time.Time, imageNS int64, modelType string, loc *time.Location) TimingReport {
	return TimingReport{
		PluginStart:      start.In(loc).Format(TimeLayout),
		PluginFinish:     finish.In(loc).Format(TimeLayout),
		ImageTimestamp:   time.Unix(0, imageNS).In(loc).Format(TimeLayout),
		ImageTimestampNS: imageNS,
		ModelType:        modelType,
	}
}
