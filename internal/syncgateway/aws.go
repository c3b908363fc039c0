package syncgateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// recordAttr holds the serialized record in each DynamoDB item.
const recordAttr = "record"

// LoadAWSConfig resolves AWS settings for region. Static keys are used when both
// are set; otherwise the default credential chain applies.
func LoadAWSConfig(ctx context.Context, region, accessKey, secretKey string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// DynamoDBAPI is the subset of the DynamoDB client used here.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDBStore implements DocumentStore with one item per key in a table whose
// partition key attribute is partitionAttr.
type DynamoDBStore struct {
	api           DynamoDBAPI
	table         string
	partitionAttr string
}

// NewDynamoDBStore returns a DynamoDBStore.
func NewDynamoDBStore(api DynamoDBAPI, table, partitionAttr string) (*DynamoDBStore, error) {
	if table == "" || partitionAttr == "" {
		return nil, errors.New("dynamodb: table and partition attribute are required")
	}
	return &DynamoDBStore{api: api, table: table, partitionAttr: partitionAttr}, nil
}

// NewDynamoDBStoreFromConfig builds the client from cfg.
func NewDynamoDBStoreFromConfig(cfg aws.Config, table, partitionAttr string) (*DynamoDBStore, error) {
	return NewDynamoDBStore(dynamodb.NewFromConfig(cfg), table, partitionAttr)
}

// PutDocument implements DocumentStore.
func (d *DynamoDBStore) PutDocument(ctx context.Context, key string, value []byte) error {
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]types.AttributeValue{
			d.partitionAttr: &types.AttributeValueMemberS{Value: key},
			recordAttr:      &types.AttributeValueMemberS{Value: string(value)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb put item: %w", err)
	}
	return nil
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ObjectStore implements ObjectStore for one bucket.
type S3ObjectStore struct {
	api    S3API
	bucket string
}

// NewS3ObjectStore returns an S3ObjectStore.
func NewS3ObjectStore(api S3API, bucket string) (*S3ObjectStore, error) {
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	return &S3ObjectStore{api: api, bucket: bucket}, nil
}

// NewS3ObjectStoreFromConfig builds the client from cfg.
func NewS3ObjectStoreFromConfig(cfg aws.Config, bucket string) (*S3ObjectStore, error) {
	return NewS3ObjectStore(s3.NewFromConfig(cfg), bucket)
}

// Download implements ObjectStore.
func (o *S3ObjectStore) Download(ctx context.Context, name string, w io.Writer) error {
	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("s3 get object %s/%s: %w", o.bucket, name, err)
	}
	defer out.Body.Close()
	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("s3 read object %s/%s: %w", o.bucket, name, err)
	}
	return nil
}
