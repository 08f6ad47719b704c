package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "cleanroute_"

var (
	registerOnce sync.Once

	telemetryReceived *prometheus.CounterVec
	uplinksDropped    *prometheus.CounterVec

	commandsIssued   *prometheus.CounterVec
	commandResults   *prometheus.CounterVec
	binsUnresponsive prometheus.Counter

	activeSessions prometheus.Gauge
	binsOnline     prometheus.Gauge

	forecastRequests *prometheus.CounterVec
	routesPlanned    *prometheus.CounterVec

	alertsRaised *prometheus.CounterVec
)

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		telemetryReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_received_total",
				Help: "Telemetry readings accepted, by zone",
			},
			[]string{"zone"},
		)
		uplinksDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "uplinks_dropped_total",
				Help: "Uplink messages dropped before processing, by reason",
			},
			[]string{"reason"},
		)

		commandsIssued = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_issued_total",
				Help: "Device commands published, by command type",
			},
			[]string{"command"},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Terminal command outcomes, by status",
			},
			[]string{"status"},
		)
		binsUnresponsive = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "bins_unresponsive_total",
				Help: "Bins declared unresponsive after retry exhaustion",
			},
		)

		activeSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_collection_sessions",
				Help: "Collection sessions currently open",
			},
		)
		binsOnline = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "bins_online",
				Help: "Bins with device status online",
			},
		)

		forecastRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "forecast_requests_total",
				Help: "Forecast computations, by result",
			},
			[]string{"result"},
		)
		routesPlanned = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "routes_planned_total",
				Help: "Route optimizations performed, by zone",
			},
			[]string{"zone"},
		)

		alertsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_raised_total",
				Help: "Alerts created, by type",
			},
			[]string{"type"},
		)

		prometheus.MustRegister(
			telemetryReceived,
			uplinksDropped,
			commandsIssued,
			commandResults,
			binsUnresponsive,
			activeSessions,
			binsOnline,
			forecastRequests,
			routesPlanned,
			alertsRaised,
		)
	})
}

func IncTelemetryReceived(zone string) {
	if zone == "" {
		zone = "unassigned"
	}
	if telemetryReceived != nil {
		telemetryReceived.WithLabelValues(zone).Inc()
	}
}

func IncUplinkDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if uplinksDropped != nil {
		uplinksDropped.WithLabelValues(reason).Inc()
	}
}

func IncCommandIssued(command string) {
	if commandsIssued != nil {
		commandsIssued.WithLabelValues(command).Inc()
	}
}

func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

func IncBinUnresponsive() {
	if binsUnresponsive != nil {
		binsUnresponsive.Inc()
	}
}

func SetActiveSessions(n int) {
	if activeSessions != nil {
		activeSessions.Set(float64(n))
	}
}

func SetBinsOnline(n int) {
	if binsOnline != nil {
		binsOnline.Set(float64(n))
	}
}

func IncForecastRequest(result string) {
	if result == "" {
		result = "success"
	}
	if forecastRequests != nil {
		forecastRequests.WithLabelValues(result).Inc()
	}
}

func IncRoutePlanned(zone string) {
	if routesPlanned != nil {
		routesPlanned.WithLabelValues(zone).Inc()
	}
}

func IncAlertRaised(alertType string) {
	if alertType == "" {
		alertType = "unknown"
	}
	if alertsRaised != nil {
		alertsRaised.WithLabelValues(alertType).Inc()
	}
}
