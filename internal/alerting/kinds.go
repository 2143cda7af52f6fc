package alerting

import (
	"fmt"
	"sync"
	"time"
)

// Kind categorizes the condition that triggered an alert. The set is closed
// at the type level; new kinds register a message builder alongside their
// constant.
type Kind string

const (
	KindThresholdBreach Kind = "THRESHOLD_BREACH"
	KindSensorOffline   Kind = "SENSOR_OFFLINE"
	KindLowBattery      Kind = "LOW_BATTERY"
)

// MessageContext carries the sensor facts a builder may embed in the
// human-readable alert text. Fields irrelevant to a kind stay zero.
type MessageContext struct {
	SensorCode string
	Unit       string
	Value      float64
	Bound      *float64
	BoundKind  string
	LastDataAt *time.Time
	Now        time.Time
}

type MessageBuilder func(MessageContext) string

var (
	buildersMu sync.RWMutex
	builders   = map[Kind]MessageBuilder{
		KindThresholdBreach: thresholdBreachMessage,
		KindSensorOffline:   sensorOfflineMessage,
		KindLowBattery:      lowBatteryMessage,
	}
)

// RegisterMessageBuilder is the extension point for new alert kinds.
func RegisterMessageBuilder(kind Kind, builder MessageBuilder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[kind] = builder
}

func BuildMessage(kind Kind, mc MessageContext) string {
	buildersMu.RLock()
	builder, ok := builders[kind]
	buildersMu.RUnlock()
	if !ok {
		return fmt.Sprintf("sensor %s raised %s", mc.SensorCode, kind)
	}
	return builder(mc)
}

func thresholdBreachMessage(mc MessageContext) string {
	if mc.Bound == nil {
		return fmt.Sprintf("sensor %s reported %.2f %s outside configured thresholds", mc.SensorCode, mc.Value, mc.Unit)
	}
	direction := "above max"
	if mc.BoundKind == "min" {
		direction = "below min"
	}
	return fmt.Sprintf("sensor %s reported %.2f %s, %s threshold %.2f", mc.SensorCode, mc.Value, mc.Unit, direction, *mc.Bound)
}

func sensorOfflineMessage(mc MessageContext) string {
	if mc.LastDataAt == nil {
		return fmt.Sprintf("sensor %s has stopped reporting", mc.SensorCode)
	}
	gap := mc.Now.Sub(*mc.LastDataAt).Round(time.Second)
	return fmt.Sprintf("sensor %s has not reported since %s (%s ago)", mc.SensorCode, mc.LastDataAt.UTC().Format(time.RFC3339), gap)
}

func lowBatteryMessage(mc MessageContext) string {
	return fmt.Sprintf("sensor %s battery level %.1f%%", mc.SensorCode, mc.Value)
}
