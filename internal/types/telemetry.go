package types

// Telemetry metric names shared by the CloudWatch and Prometheus backends.
const (
	// Metric Names
	MetricSweepDuration      = "SweepDuration"
	MetricQueriesExamined    = "QueriesExamined"
	MetricEscalations        = "Escalations"
	MetricClaimsLost         = "ClaimsLost"
	MetricTerminalOverdue    = "TerminalOverdue"
	MetricSweepErrors        = "SweepErrors"
	MetricDeliveryAttempt    = "DeliveryAttempt"
	MetricDeliverySuccess    = "DeliverySuccess"
	MetricDeliveryFailed     = "DeliveryFailed"
	MetricDeliveryLatency    = "DeliveryLatency"
	MetricExternalAPIFailure = "ExternalAPIFailure"
	MetricContactFallback    = "ContactFallback"
	MetricAPILatency         = "APILatency"
	MetricAPIRequestCount    = "APIRequestCount"

	// Dimension Keys
	DimChannel  = "Channel"
	DimTier     = "Tier"
	DimProvider = "Provider"
	DimResult   = "Result"
	DimMethod   = "Method"
	DimRoute    = "Route"
	DimStatus   = "Status"

	// Metric Namespace
	MetricNamespace = "QueryGuard"
)
