// Package projector maps synchronized state into display-ready view models.
// Everything here is a pure function of its inputs.
package projector

import (
	"strconv"
	"time"

	"fieldsync/internal/models"
)

// Field names as the devices publish them.
const (
	FieldTemperature  = "Temperature"
	FieldHumidity     = "Humidity"
	FieldSoilMoisture = "SoilMoisture"
	FieldWaterLevel   = "WaterLevel"
)

const notAvailable = "NA"

// Trend badges.
const (
	TrendPositive = "positive"
	TrendNegative = "negative"
)

// Card kinds.
const (
	KindLine  = "line"
	KindGauge = "gauge"
)

// MetricCard is one sensor tile.
type MetricCard struct {
	Field   string   `json:"field"`
	Title   string   `json:"title"`
	Kind    string   `json:"kind"`
	Unit    string   `json:"unit"`
	Value   *float64 `json:"value,omitempty"`
	Display string   `json:"display"`           // "24.5°C", "41%" or "NA"
	Percent *float64 `json:"percent,omitempty"` // gauges only, clamped to [0,100]
	Trend   string   `json:"trend,omitempty"`   // empty when the field is absent
}

// PumpView is the actuator badge; Label shows the optimistic value.
type PumpView struct {
	ActuatorID string `json:"actuator_id"`
	Label      string `json:"label"` // ON | OFF
	On         bool   `json:"on"`
	Confirmed  bool   `json:"confirmed"`
	Pending    bool   `json:"pending"`
	Synced     bool   `json:"synced"`
}

// DashboardView is the full dashboard for one topic.
type DashboardView struct {
	Topic        models.Topic             `json:"topic"`
	Connectivity models.ConnectivityState `json:"connectivity"`
	Online       bool                     `json:"online"`
	Metrics      []MetricCard             `json:"metrics"`
	Pump         *PumpView                `json:"pump,omitempty"`
	SourceTime   *time.Time               `json:"source_time,omitempty"`
	ReceivedAt   *time.Time               `json:"received_at,omitempty"`
}

// ChartPoint is one sample of a chart series.
type ChartPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type cardSpec struct {
	field, title, kind, unit string
	positive                 func(float64) bool
}

var cards = []cardSpec{
	{FieldTemperature, "Temperature", KindLine, "°C", func(v float64) bool { return v >= 20 }},
	{FieldHumidity, "Humidity", KindLine, "%", func(v float64) bool { return v <= 60 }},
	{FieldSoilMoisture, "Soil Moisture", KindGauge, "%", gaugePositive},
	{FieldWaterLevel, "Water Level", KindGauge, "%", gaugePositive},
}

func gaugePositive(v float64) bool { return v > 50 }

// ProjectDashboard builds the dashboard. reading may be nil before the first snapshot
// and actuator nil when the topic has no bound actuator.
func ProjectDashboard(topic models.Topic, reading *models.SensorReading, conn models.ConnectivityState, actuator *models.ActuatorState) DashboardView {
	view := DashboardView{
		Topic:        topic,
		Connectivity: conn,
		Online:       conn == models.Online,
		Metrics:      make([]MetricCard, 0, len(cards)),
	}
	if reading != nil {
		if reading.HasSourceTime() {
			st := reading.SourceTime.UTC()
			view.SourceTime = &st
		}
		if !reading.ReceivedAt.IsZero() {
			rt := reading.ReceivedAt.UTC()
			view.ReceivedAt = &rt
		}
	}

	for _, cs := range cards {
		view.Metrics = append(view.Metrics, projectCard(cs, reading))
	}
	if actuator != nil {
		view.Pump = ProjectPump(*actuator)
	}
	return view
}

func projectCard(cs cardSpec, reading *models.SensorReading) MetricCard {
	card := MetricCard{Field: cs.field, Title: cs.title, Kind: cs.kind, Unit: cs.unit, Display: notAvailable}
	if reading == nil {
		return card
	}
	raw, ok := reading.Field(cs.field)
	if !ok {
		return card
	}
	v, ok := raw.Float()
	if !ok {
		return card
	}

	card.Value = &v
	if cs.positive(v) {
		card.Trend = TrendPositive
	} else {
		card.Trend = TrendNegative
	}
	if cs.kind == KindGauge {
		p := clampPercent(v)
		card.Percent = &p
		card.Display = strconv.FormatFloat(p, 'f', 0, 64) + "%"
		return card
	}
	card.Display = strconv.FormatFloat(v, 'f', 1, 64) + cs.unit
	return card
}

// ProjectPump renders the actuator badge from its optimistic value.
func ProjectPump(st models.ActuatorState) *PumpView {
	label := "OFF"
	if st.Desired {
		label = "ON"
	}
	return &PumpView{
		ActuatorID: st.ActuatorID,
		Label:      label,
		On:         st.Desired,
		Confirmed:  st.Confirmed,
		Pending:    st.Pending,
		Synced:     st.Synced,
	}
}

// ProjectSeries extracts one numeric field from a history snapshot, skipping entries without it.
func ProjectSeries(entries []models.HistoryEntry, field string) []ChartPoint {
	out := make([]ChartPoint, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Reading.Field(field)
		if !ok {
			continue
		}
		v, ok := raw.Float()
		if !ok {
			continue
		}
		out = append(out, ChartPoint{Time: e.Timestamp.UTC(), Value: v})
	}
	return out
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
