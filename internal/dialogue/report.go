package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
)

// BuildAssessment turns a TERMINATED session into the report handed to the
// sinks. Skipped symptoms have no score and add a review reason.
func BuildAssessment(cat *catalog.Catalog, s Session, at time.Time) (*assessment.SymptomAssessment, error) {
	if s.State != StateTerminated {
		return nil, fmt.Errorf("dialogue: build assessment: session %s is %s", s.ID, s.State)
	}
	if s.OutcomeCount() < cat.Size(s.Channel) {
		return nil, ErrIncompleteAssessment
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	scores := copyMap(s.Scores)
	flags := s.SafetyFlags()
	reasons := append([]string(nil), s.ReviewReasons...)

	var skippedNames []string
	for _, id := range s.Skipped {
		if _, scored := scores[id]; !scored {
			skippedNames = append(skippedNames, cat.DisplayName(id))
		}
	}
	if len(skippedNames) > 0 {
		reasons = append(reasons, "症狀未回答："+strings.Join(skippedNames, "、"))
	}

	var openEnded []string
	for _, q := range cat.OpenEnded(s.Channel) {
		if text := strings.TrimSpace(s.OpenEndedResponses[q.ID]); text != "" {
			openEnded = append(openEnded, text)
		}
	}

	method := assessment.MethodAIChat
	if s.Channel == catalog.ChannelVoice {
		method = assessment.MethodVoice
	}

	report := &assessment.SymptomAssessment{
		ReportID:           assessment.ReportID(s.PatientID, s.ID, at),
		PatientID:          s.PatientID,
		SessionID:          s.ID,
		Scores:             scores,
		Descriptions:       copyMap(s.Descriptions),
		OpenEndedResponses: openEnded,
		SafetyFlags:        flags,
		Method:             method,
		AvgScore:           assessment.AverageScore(scores),
		AlertLevel:         alert.Evaluate(scores, flags),
		AlertReasons:       alert.Reasons(scores, flags),
		MaxSymptom:         assessment.MaxSymptom(scores),
		Skipped:            append([]string(nil), s.Skipped...),
		NeedsReview:        len(reasons) > 0,
		ReviewReasons:      reasons,
		CreatedAt:          at,
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}
	return report, nil
}

// describedCount is the number of symptoms with a free-text description.
func describedCount(report *assessment.SymptomAssessment) int {
	n := 0
	for _, d := range report.Descriptions {
		if strings.TrimSpace(d) != "" {
			n++
		}
	}
	return n
}
