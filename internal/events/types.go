package events

import "time"

// ReportCompletedV1 is emitted once per completed assessment for downstream
// consumers such as gamification. Consumers must not feed anything back.
type ReportCompletedV1 struct {
	PatientID                   string    `json:"patient_id"`
	SessionID                   string    `json:"session_id"`
	ReportID                    string    `json:"report_id"`
	Channel                     string    `json:"channel"`
	AlertLevel                  string    `json:"alert_level"`
	SymptomCountWithDescription int       `json:"symptom_count_with_description"`
	OpenEndedCount              int       `json:"open_ended_count"`
	PersistenceDeferred         bool      `json:"persistence_deferred,omitempty"`
	CompletedAt                 time.Time `json:"completed_at"`
}

func (ReportCompletedV1) EventType() string {
	return "assessment.report.completed.v1"
}

func (e ReportCompletedV1) CorrelationKey() string { return e.SessionID }

// RedAlertRaisedV1 records that a session crossed into red for the first time.
type RedAlertRaisedV1 struct {
	PatientID string    `json:"patient_id"`
	SessionID string    `json:"session_id"`
	Channel   string    `json:"channel"`
	Reasons   []string  `json:"reasons"`
	RaisedAt  time.Time `json:"raised_at"`
}

func (RedAlertRaisedV1) EventType() string {
	return "assessment.red_alert.raised.v1"
}

func (e RedAlertRaisedV1) CorrelationKey() string { return e.SessionID }

// PatientAggregate is the aggregate key for patient-scoped events.
func PatientAggregate(patientID string) string {
	return "patient:" + patientID
}
