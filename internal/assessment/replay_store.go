package assessment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

const replayTTL = 14 * 24 * time.Hour

// ReplayStatus is the lifecycle of a report whose persistence was deferred.
type ReplayStatus string

const (
	ReplayPending  ReplayStatus = "pending"
	ReplayReplayed ReplayStatus = "replayed"
)

// ErrReplayNotFound indicates the report id has no replay record.
var ErrReplayNotFound = errors.New("assessment: replay record not found")

// ReplayRecord is a report waiting to be written to the primary sink.
type ReplayRecord struct {
	ReportID  string             `dynamodbav:"reportId" json:"report_id"`
	Status    ReplayStatus       `dynamodbav:"status" json:"status"`
	Report    *SymptomAssessment `dynamodbav:"report" json:"report"`
	Attempts  int                `dynamodbav:"attempts" json:"attempts"`
	LastError string             `dynamodbav:"lastError,omitempty" json:"last_error,omitempty"`
	CreatedAt string             `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt string             `dynamodbav:"updatedAt" json:"updated_at"`
	ExpiresAt int64              `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// ReplayStore tracks reports the engine could not persist at completion time.
type ReplayStore interface {
	MarkPending(ctx context.Context, a *SymptomAssessment, cause error) error
	Pending(ctx context.Context, limit int) ([]ReplayRecord, error)
	MarkReplayed(ctx context.Context, reportID string) error
	RecordFailure(ctx context.Context, reportID, errMsg string) error
	Get(ctx context.Context, reportID string) (*ReplayRecord, error)
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoReplayStore keeps replay records in a DynamoDB table keyed by reportId.
type DynamoReplayStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

// NewDynamoReplayStore builds a store backed by the provided DynamoDB client.
func NewDynamoReplayStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoReplayStore {
	if client == nil {
		panic("assessment: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("assessment: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoReplayStore{client: client, tableName: tableName, logger: logger, now: time.Now}
}

// MarkPending records a. A report already marked is left as is.
func (s *DynamoReplayStore) MarkPending(ctx context.Context, a *SymptomAssessment, cause error) error {
	if a == nil || a.ReportID == "" {
		return errors.New("assessment: report id required")
	}
	now := s.now().UTC()
	rec := ReplayRecord{
		ReportID:  a.ReportID,
		Status:    ReplayPending,
		Report:    a,
		CreatedAt: now.Format(time.RFC3339Nano),
		UpdatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(replayTTL).Unix(),
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("assessment: marshal replay record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(reportId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("assessment: persist replay record: %w", err)
	}
	return nil
}

// Pending scans for records still waiting, oldest first, up to limit.
func (s *DynamoReplayStore) Pending(ctx context.Context, limit int) ([]ReplayRecord, error) {
	if limit <= 0 {
		limit = 25
	}
	var (
		out   []ReplayRecord
		start map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(s.tableName),
			FilterExpression:         aws.String("#status = :pending"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pending": &types.AttributeValueMemberS{Value: string(ReplayPending)},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("assessment: scan replay records: %w", err)
		}
		for _, item := range resp.Items {
			var rec ReplayRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				s.logger.Warn("skipping undecodable replay record", "error", err)
				continue
			}
			out = append(out, rec)
		}
		if len(out) >= limit || len(resp.LastEvaluatedKey) == 0 {
			break
		}
		start = resp.LastEvaluatedKey
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *DynamoReplayStore) MarkReplayed(ctx context.Context, reportID string) error {
	return s.update(ctx, reportID,
		"SET #status = :status, #updated = :updated",
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(ReplayReplayed)},
			":updated": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{"#status": "status", "#updated": "updatedAt"},
	)
}

func (s *DynamoReplayStore) RecordFailure(ctx context.Context, reportID, errMsg string) error {
	return s.update(ctx, reportID,
		"SET #error = :error, #updated = :updated ADD attempts :one",
		map[string]types.AttributeValue{
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
			":one":     &types.AttributeValueMemberN{Value: "1"},
		},
		map[string]string{"#error": "lastError", "#updated": "updatedAt"},
	)
}

func (s *DynamoReplayStore) Get(ctx context.Context, reportID string) (*ReplayRecord, error) {
	if reportID == "" {
		return nil, errors.New("assessment: report id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"reportId": &types.AttributeValueMemberS{Value: reportID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("assessment: fetch replay record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrReplayNotFound
	}
	var rec ReplayRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("assessment: decode replay record: %w", err)
	}
	return &rec, nil
}

func (s *DynamoReplayStore) update(ctx context.Context, reportID, expression string, values map[string]types.AttributeValue, names map[string]string) error {
	if reportID == "" {
		return errors.New("assessment: report id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"reportId": &types.AttributeValueMemberS{Value: reportID},
		},
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(reportId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrReplayNotFound
		}
		return fmt.Errorf("assessment: update replay record %s: %w", reportID, err)
	}
	return nil
}

// MemoryReplayStore is the in-process ReplayStore.
type MemoryReplayStore struct {
	mu      sync.Mutex
	records map[string]*ReplayRecord
	seq     []string
}

func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{records: make(map[string]*ReplayRecord)}
}

func (m *MemoryReplayStore) MarkPending(ctx context.Context, a *SymptomAssessment, cause error) error {
	if a == nil || a.ReportID == "" {
		return errors.New("assessment: report id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[a.ReportID]; ok {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rec := &ReplayRecord{ReportID: a.ReportID, Status: ReplayPending, Report: a, CreatedAt: now, UpdatedAt: now}
	if cause != nil {
		rec.LastError = cause.Error()
	}
	m.records[a.ReportID] = rec
	m.seq = append(m.seq, a.ReportID)
	return nil
}

func (m *MemoryReplayStore) Pending(ctx context.Context, limit int) ([]ReplayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReplayRecord
	for _, id := range m.seq {
		if rec := m.records[id]; rec.Status == ReplayPending {
			out = append(out, *rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryReplayStore) MarkReplayed(ctx context.Context, reportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[reportID]
	if !ok {
		return ErrReplayNotFound
	}
	rec.Status = ReplayReplayed
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

func (m *MemoryReplayStore) RecordFailure(ctx context.Context, reportID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[reportID]
	if !ok {
		return ErrReplayNotFound
	}
	rec.Attempts++
	rec.LastError = errMsg
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

func (m *MemoryReplayStore) Get(ctx context.Context, reportID string) (*ReplayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[reportID]
	if !ok {
		return nil, ErrReplayNotFound
	}
	cp := *rec
	return &cp, nil
}

var (
	_ ReplayStore = (*DynamoReplayStore)(nil)
	_ ReplayStore = (*MemoryReplayStore)(nil)
)
