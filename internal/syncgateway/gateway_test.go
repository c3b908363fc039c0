package syncgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather-forecast-service/internal/models"
)

type fakeDynamo struct {
	inputs []*dynamodb.PutItemInput
	err    error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.inputs = append(f.inputs, in)
	return &dynamodb.PutItemOutput{}, f.err
}

type fakeS3 struct {
	body  string
	err   error
	input *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

type memDocs struct {
	docs map[string][]byte
	err  error
}

func (m *memDocs) PutDocument(_ context.Context, key string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.docs == nil {
		m.docs = map[string][]byte{}
	}
	m.docs[key] = value
	return nil
}

func testRecord(loc string) models.ForecastRecord {
	return models.ForecastRecord{
		Location:   loc,
		Days:       []models.DayRecord{{Key: "day1", Datetime: "2024-05-01", TempMorning: 20, TempEvening: 15, Humidity: 50}},
		HottestDay: "day1",
		CreatedAt:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestGateway_PushRecord_LastWriteWins(t *testing.T) {
	docs := &memDocs{}
	g := New(docs, nil, Options{RecordKey: "weather-forecast"}, nil)

	require.NoError(t, g.PushRecord(context.Background(), testRecord("paris")))
	require.NoError(t, g.PushRecord(context.Background(), testRecord("rome")))

	require.Len(t, docs.docs, 1)
	var got models.ForecastRecord
	require.NoError(t, json.Unmarshal(docs.docs["weather-forecast"], &got))
	assert.Equal(t, testRecord("rome"), got)
}

func TestGateway_PushRecord_Failures(t *testing.T) {
	g := New(&memDocs{err: errors.New("throttled")}, nil, Options{RecordKey: "k"}, nil)
	assert.ErrorIs(t, g.PushRecord(context.Background(), testRecord("paris")), models.ErrSyncFailed)

	unconfigured := New(nil, nil, Options{RecordKey: "k"}, nil)
	assert.ErrorIs(t, unconfigured.PushRecord(context.Background(), testRecord("paris")), models.ErrSyncFailed)
}

func TestGateway_PullAsset(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "assets", "image.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	objects, err := NewS3ObjectStore(&fakeS3{body: "new image bytes"}, "assets-bucket")
	require.NoError(t, err)
	g := New(nil, objects, Options{AssetName: "image.jpg", AssetPath: dest}, nil)

	path, err := g.PullAsset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dest, path)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new image bytes", string(got))
}

func TestGateway_PullAsset_FailureKeepsExistingFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "image.jpg")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	objects, err := NewS3ObjectStore(&fakeS3{err: errors.New("access denied")}, "assets-bucket")
	require.NoError(t, err)
	g := New(nil, objects, Options{AssetName: "image.jpg", AssetPath: dest}, nil)

	_, err = g.PullAsset(context.Background())
	assert.ErrorIs(t, err, models.ErrSyncFailed)
	got, _ := os.ReadFile(dest)
	assert.Equal(t, "old", string(got))
}

func TestGateway_PullAsset_Unconfigured(t *testing.T) {
	_, err := New(nil, nil, Options{}, nil).PullAsset(context.Background())
	assert.ErrorIs(t, err, models.ErrSyncFailed)
}

func TestDynamoDBStore_PutDocument(t *testing.T) {
	api := &fakeDynamo{}
	store, err := NewDynamoDBStore(api, "forecast-records", "recordKey")
	require.NoError(t, err)

	require.NoError(t, store.PutDocument(context.Background(), "weather-forecast", []byte(`{"location":"paris"}`)))

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "forecast-records", aws.ToString(in.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "weather-forecast"}, in.Item["recordKey"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: `{"location":"paris"}`}, in.Item[recordAttr])

	api.err = errors.New("ResourceNotFoundException")
	assert.Error(t, store.PutDocument(context.Background(), "weather-forecast", []byte(`{}`)))
}

func TestNewDynamoDBStore_Validation(t *testing.T) {
	_, err := NewDynamoDBStore(&fakeDynamo{}, "", "recordKey")
	assert.Error(t, err)
	_, err = NewDynamoDBStore(&fakeDynamo{}, "table", "")
	assert.Error(t, err)
}

func TestS3ObjectStore_Download(t *testing.T) {
	api := &fakeS3{body: "payload"}
	store, err := NewS3ObjectStore(api, "bucket")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, store.Download(context.Background(), "image.jpg", &buf))
	assert.Equal(t, "payload", buf.String())
	assert.Equal(t, "bucket", aws.ToString(api.input.Bucket))
	assert.Equal(t, "image.jpg", aws.ToString(api.input.Key))

	_, err = NewS3ObjectStore(api, "")
	assert.Error(t, err)
}

func TestParseAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, parseAddrs(" a:1 , ,b:2"))
	assert.Empty(t, parseAddrs(""))
}
