package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-service/internal/config"
)

func syncConfig(backend string) *config.Config {
	return &config.Config{
		SyncEnabled:        true,
		DocumentBackend:    backend,
		AWSRegion:          "us-east-1",
		AWSAccessKeyID:     "AKIDEXAMPLE",
		AWSSecretAccessKey: "secret",
		DynamoTable:        "weather",
		PartitionAttr:      "id",
		RecordKey:          "forecast",
		Bucket:             "weather-assets",
		AssetKey:           "image.jpg",
		AssetPath:          "data/image.jpg",
		MemcachedAddrs:     "localhost:11211",
		MemcachedTimeout:   500 * time.Millisecond,
	}
}

func TestBuildGateway_Disabled(t *testing.T) {
	gw, mc, err := buildGateway(context.Background(), &config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, gw)
	assert.Nil(t, mc)
}

func TestBuildGateway_DynamoDB(t *testing.T) {
	gw, mc, err := buildGateway(context.Background(), syncConfig("dynamodb"), zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, gw)
	assert.Nil(t, mc)
}

func TestBuildGateway_Memcached(t *testing.T) {
	gw, mc, err := buildGateway(context.Background(), syncConfig("memcached"), zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, gw)
	require.NotNil(t, mc)
	assert.NoError(t, mc.Close())
}

func TestBuildGateway_MissingBucket(t *testing.T) {
	cfg := syncConfig("dynamodb")
	cfg.Bucket = ""
	_, _, err := buildGateway(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
