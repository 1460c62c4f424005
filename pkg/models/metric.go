package models

import "time"

type PerformanceMetrics struct {
	TimeSaved          time.Duration `json:"time_saved"`
	DocumentsProcessed int           `json:"documents_processed"`
	ComplianceRate     float64       `json:"compliance_rate"`
}

// WorkflowMetric is derived from execution history and never edited by hand.
type WorkflowMetric struct {
	WorkflowID      string             `json:"workflow_id"`
	ExecutionCount  int                `json:"execution_count"`
	Completed       int                `json:"completed"`
	Failed          int                `json:"failed"`
	Cancelled       int                `json:"cancelled"`
	Skipped         int                `json:"skipped"`
	SuccessRate     float64            `json:"success_rate"`
	AverageDuration time.Duration      `json:"average_duration"`
	Performance     PerformanceMetrics `json:"performance"`
}
