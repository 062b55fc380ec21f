package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive writes each report as a JSON object partitioned by date and patient.
type Archive struct {
	bucket string
	client S3API
	logger *logging.Logger
}

// NewArchive returns an archive; with an empty bucket or nil client every Save is a no-op.
func NewArchive(client S3API, bucket string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{bucket: bucket, client: client, logger: logger}
}

// Enabled reports whether archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

// Key is the object key for a report.
func Key(r *SymptomAssessment) string {
	at := r.CreatedAt.UTC()
	return fmt.Sprintf("assessments/v1/by-date/%d/%02d/%02d/%s/%s.json",
		at.Year(), at.Month(), at.Day(), r.PatientID, r.ReportID)
}

func (a *Archive) Save(ctx context.Context, r *SymptomAssessment) error {
	if !a.Enabled() {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("assessment: marshal archive record: %w", err)
	}
	key := Key(r)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("assessment: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived assessment", "report_id", r.ReportID, "s3_key", key, "alert_level", r.AlertLevel)
	return nil
}

var _ Sink = (*Archive)(nil)
