// Package assessment holds the finalized symptom report and the sinks that
// persist it outside the dialogue engine.
package assessment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
)

// Method is how the assessment was collected.
type Method string

const (
	MethodAIChat Method = "ai_chat"
	MethodVoice  Method = "voice"
)

// SymptomAssessment is created once when a session completes and never changes afterward.
type SymptomAssessment struct {
	ReportID           string            `json:"report_id" dynamodbav:"reportId"`
	PatientID          string            `json:"patient_id" dynamodbav:"patientId"`
	SessionID          string            `json:"session_id" dynamodbav:"sessionId"`
	Scores             map[string]int    `json:"scores" dynamodbav:"scores"`
	Descriptions       map[string]string `json:"descriptions" dynamodbav:"descriptions"`
	OpenEndedResponses []string          `json:"open_ended_responses" dynamodbav:"openEndedResponses"`
	SafetyFlags        alert.SafetyFlags `json:"safety_flags" dynamodbav:"safetyFlags"`
	Method             Method            `json:"method" dynamodbav:"method"`
	AvgScore           float64           `json:"avg_score" dynamodbav:"avgScore"`
	AlertLevel         alert.Level       `json:"alert_level" dynamodbav:"alertLevel"`
	AlertReasons       []string          `json:"alert_reasons,omitempty" dynamodbav:"alertReasons,omitempty"`
	MaxSymptom         string            `json:"max_symptom,omitempty" dynamodbav:"maxSymptom,omitempty"`
	Skipped            []string          `json:"skipped,omitempty" dynamodbav:"skipped,omitempty"`
	NeedsReview        bool              `json:"needs_review" dynamodbav:"needsReview"`
	ReviewReasons      []string          `json:"review_reasons,omitempty" dynamodbav:"reviewReasons,omitempty"`
	CreatedAt          time.Time         `json:"created_at" dynamodbav:"createdAt"`
}

// ReportID formats the report identifier for a patient's session completed at
// at. The trailing session digest keeps two sessions of one patient that finish
// in the same second apart.
func ReportID(patientID, sessionID string, at time.Time) string {
	id := fmt.Sprintf("RPT_%s_%s", patientID, at.Format("20060102150405"))
	if sessionID == "" {
		return id
	}
	sum := sha256.Sum256([]byte(sessionID))
	return id + "_" + hex.EncodeToString(sum[:4])
}

// AverageScore is the mean of the recorded scores rounded to two places, or 0 when none.
func AverageScore(scores map[string]int) float64 {
	if len(scores) == 0 {
		return 0
	}
	total := 0
	for _, v := range scores {
		total += v
	}
	return math.Round(float64(total)/float64(len(scores))*100) / 100
}

// MaxSymptom returns the id with the highest score. Ties go to the id that sorts first.
func MaxSymptom(scores map[string]int) string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	best, bestScore := "", -1
	for _, id := range ids {
		if scores[id] > bestScore {
			best, bestScore = id, scores[id]
		}
	}
	return best
}

var ErrInvalidAssessment = errors.New("assessment: invalid record")

// Validate checks the fields every sink relies on.
func (a *SymptomAssessment) Validate() error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: nil", ErrInvalidAssessment)
	case a.ReportID == "":
		return fmt.Errorf("%w: missing report id", ErrInvalidAssessment)
	case a.PatientID == "":
		return fmt.Errorf("%w: missing patient id", ErrInvalidAssessment)
	case a.Method != MethodAIChat && a.Method != MethodVoice:
		return fmt.Errorf("%w: method %q", ErrInvalidAssessment, a.Method)
	}
	for id, s := range a.Scores {
		if s < 0 || s > 10 {
			return fmt.Errorf("%w: score %s=%d", ErrInvalidAssessment, id, s)
		}
	}
	return nil
}

// Sink durably stores finalized assessments. Save must be idempotent on ReportID.
type Sink interface {
	Save(ctx context.Context, a *SymptomAssessment) error
}
