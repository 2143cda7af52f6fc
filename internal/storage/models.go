package storage

import "time"

type SensorStatus string

const (
	StatusActive         SensorStatus = "ACTIVE"
	StatusOffline        SensorStatus = "OFFLINE"
	StatusFaulty         SensorStatus = "FAULTY"
	StatusMaintenance    SensorStatus = "MAINTENANCE"
	StatusDecommissioned SensorStatus = "DECOMMISSIONED"
)

// ReadingRecord rows are append-only; nothing in the pipeline updates or
// deletes them after the insert.
type ReadingRecord struct {
	ID           string     `json:"id"`
	SensorID     string     `json:"sensorId"`
	TS           time.Time  `json:"ts"`
	Value        float64    `json:"value"`
	Unit         string     `json:"unit"`
	Value2       *float64   `json:"value2,omitempty"`
	Value3       *float64   `json:"value3,omitempty"`
	Quality      string     `json:"quality,omitempty"`
	RawPayload   []byte     `json:"-"`
	Anomaly      bool       `json:"anomaly"`
	AnomalyScore *float64   `json:"anomalyScore,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// SensorRecord is the registry subset the pipeline reads. CurrentValue,
// LastDataAt and Status are the only fields it ever writes back.
type SensorRecord struct {
	ID           string       `json:"id"`
	Code         string       `json:"code"`
	Unit         string       `json:"unit"`
	MinThreshold *float64     `json:"minThreshold,omitempty"`
	MaxThreshold *float64     `json:"maxThreshold,omitempty"`
	CurrentValue *float64     `json:"currentValue,omitempty"`
	LastDataAt   *time.Time   `json:"lastDataAt,omitempty"`
	Status       SensorStatus `json:"status"`
}

type AlertRecord struct {
	ID             string     `json:"id"`
	SensorID       string     `json:"sensorId"`
	Kind           string     `json:"kind"`
	Message        string     `json:"message"`
	Severity       string     `json:"severity"`
	ReadingValue   float64    `json:"readingValue"`
	ThresholdValue *float64   `json:"thresholdValue,omitempty"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy *string    `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// AlertFilter narrows List queries; zero values mean "no constraint".
type AlertFilter struct {
	SensorID     string
	Kind         string
	Acknowledged *bool
	Limit        int
	Offset       int
}
