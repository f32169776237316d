package adapter_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sightline/pkg/adapter"
)

type testRow struct {
	Name      string    `bigquery:"name"`
	CreatedAt time.Time `bigquery:"created_at"`
}

func TestBigQuery(t *testing.T) {
	projectID := os.Getenv("TEST_BIGQUERY_PROJECT")
	if projectID == "" {
		t.Skip("TEST_BIGQUERY_PROJECT is not set")
	}

	datasetID := os.Getenv("TEST_BIGQUERY_DATASET")
	if datasetID == "" {
		t.Skip("TEST_BIGQUERY_DATASET is not set")
	}

	table := os.Getenv("TEST_BIGQUERY_TABLE")
	if table == "" {
		t.Skip("TEST_BIGQUERY_TABLE is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewBigQuery(ctx, projectID)
	gt.NoError(t, err)

	schema, err := bigquery.InferSchema(testRow{})
	gt.NoError(t, err)

	t.Run("EnsureTable", func(t *testing.T) {
		gt.NoError(t, client.EnsureTable(ctx, datasetID, table, schema))
		// second call finds the existing table
		gt.NoError(t, client.EnsureTable(ctx, datasetID, table, schema))
	})

	t.Run("Insert", func(t *testing.T) {
		rows := []*testRow{{Name: "sightline", CreatedAt: time.Now()}}
		gt.NoError(t, client.Insert(ctx, datasetID, table, rows))
	})
}
