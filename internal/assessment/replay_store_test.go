package assessment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	putInput    *dynamodb.PutItemInput
	putErr      error
	updateInput *dynamodb.UpdateItemInput
	updateErr   error
	getOutput   *dynamodb.GetItemOutput
	scanPages   []*dynamodb.ScanOutput
	scanInputs  []*dynamodb.ScanInput
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInput = in
	return &dynamodb.UpdateItemOutput{}, m.updateErr
}

func (m *mockDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func (m *mockDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.scanInputs = append(m.scanInputs, in)
	if len(m.scanPages) == 0 {
		return &dynamodb.ScanOutput{}, nil
	}
	page := m.scanPages[0]
	m.scanPages = m.scanPages[1:]
	return page, nil
}

func replayItem(t *testing.T, id, created string) map[string]types.AttributeValue {
	t.Helper()
	r := sampleReport()
	r.ReportID = id
	item, err := attributevalue.MarshalMap(ReplayRecord{ReportID: id, Status: ReplayPending, Report: r, CreatedAt: created})
	require.NoError(t, err)
	return item
}

func TestDynamoReplayStoreMarkPending(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoReplayStore(mock, "report_replays", nil)

	require.NoError(t, store.MarkPending(context.Background(), sampleReport(), errors.New("db down")))
	require.NotNil(t, mock.putInput)
	assert.Equal(t, "attribute_not_exists(reportId)", *mock.putInput.ConditionExpression)

	var stored ReplayRecord
	require.NoError(t, attributevalue.UnmarshalMap(mock.putInput.Item, &stored))
	assert.Equal(t, ReplayPending, stored.Status)
	assert.Equal(t, "db down", stored.LastError)
	assert.Greater(t, stored.ExpiresAt, time.Now().Unix())
	require.NotNil(t, stored.Report)
	assert.Equal(t, 8, stored.Report.Scores["pain"])
}

func TestDynamoReplayStoreMarkPendingAlreadyExists(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{}}
	store := NewDynamoReplayStore(mock, "report_replays", nil)
	assert.NoError(t, store.MarkPending(context.Background(), sampleReport(), nil))
}

func TestDynamoReplayStorePendingPaginates(t *testing.T) {
	mock := &mockDynamo{scanPages: []*dynamodb.ScanOutput{
		{
			Items:            []map[string]types.AttributeValue{replayItem(t, "RPT_b", "2026-03-01T10:00:00Z")},
			LastEvaluatedKey: map[string]types.AttributeValue{"reportId": &types.AttributeValueMemberS{Value: "RPT_b"}},
		},
		{
			Items: []map[string]types.AttributeValue{replayItem(t, "RPT_a", "2026-03-01T09:00:00Z")},
		},
	}}
	store := NewDynamoReplayStore(mock, "report_replays", nil)

	recs, err := store.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "RPT_a", recs[0].ReportID)
	require.Len(t, mock.scanInputs, 2)
	assert.Equal(t, "#status = :pending", *mock.scanInputs[0].FilterExpression)
	assert.NotNil(t, mock.scanInputs[1].ExclusiveStartKey)
}

func TestDynamoReplayStoreUpdates(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoReplayStore(mock, "report_replays", nil)

	require.NoError(t, store.RecordFailure(context.Background(), "RPT_1", "timeout"))
	assert.Contains(t, *mock.updateInput.UpdateExpression, "ADD attempts :one")
	assert.Equal(t, "lastError", mock.updateInput.ExpressionAttributeNames["#error"])

	require.NoError(t, store.MarkReplayed(context.Background(), "RPT_1"))
	assert.Equal(t, "status", mock.updateInput.ExpressionAttributeNames["#status"])

	mock.updateErr = &types.ConditionalCheckFailedException{}
	assert.ErrorIs(t, store.MarkReplayed(context.Background(), "RPT_missing"), ErrReplayNotFound)
}

func TestDynamoReplayStoreGet(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoReplayStore(mock, "report_replays", nil)
	_, err := store.Get(context.Background(), "RPT_1")
	assert.ErrorIs(t, err, ErrReplayNotFound)

	mock.getOutput = &dynamodb.GetItemOutput{Item: replayItem(t, "RPT_1", "2026-03-01T09:00:00Z")}
	rec, err := store.Get(context.Background(), "RPT_1")
	require.NoError(t, err)
	assert.Equal(t, ReplayPending, rec.Status)
}

func TestMemoryReplayStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReplayStore()
	r := sampleReport()

	require.NoError(t, store.MarkPending(ctx, r, errors.New("db down")))
	require.NoError(t, store.MarkPending(ctx, r, nil))
	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.RecordFailure(ctx, r.ReportID, "still down"))
	rec, err := store.Get(ctx, r.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)

	require.NoError(t, store.MarkReplayed(ctx, r.ReportID))
	pending, err = store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.ErrorIs(t, store.MarkReplayed(ctx, "missing"), ErrReplayNotFound)
}
