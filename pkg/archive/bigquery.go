package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// BigQueryDatasetConfig holds configuration for a BigQuery dataset and table.
type BigQueryDatasetConfig struct {
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: path to a service account JSON file.
}

// NewBigQueryClient creates a BigQuery client suitable for production
// environments, using Application Default Credentials unless a credentials
// file is configured.
func NewBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", projectID).Msg("BigQuery client created.")
	return client, nil
}

// BigQuerySink implements BatchSink for Google BigQuery, streaming archived
// audit records into a table.
type BigQuerySink[T any] struct {
	client   *bigquery.Client
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQuerySink creates a sink for the configured table. If the table does
// not exist it is created with a schema inferred from T, so deploying a new
// record type needs no manual table setup.
func NewBigQuerySink[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryDatasetConfig,
	logger zerolog.Logger,
) (*BigQuerySink[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}

	logger = logger.With().
		Str("component", "BigQuerySink").
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("get metadata for table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}

		logger.Warn().Msg("Archive table not found; creating with inferred schema.")
		var zero T
		inferredSchema, inferErr := bigquery.InferSchema(zero)
		if inferErr != nil {
			return nil, fmt.Errorf("infer schema for type %T: %w", zero, inferErr)
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: inferredSchema}); createErr != nil {
			return nil, fmt.Errorf("create archive table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
	}

	logger.Info().Msg("BigQuery archive sink ready.")
	return &BigQuerySink[T]{
		client:   client,
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// InsertBatch streams a batch of records into the archive table.
func (s *BigQuerySink[T]) InsertBatch(ctx context.Context, records []*T) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.inserter.Put(ctx, records); err != nil {
		return fmt.Errorf("bigquery insert of %d records: %w", len(records), err)
	}
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is managed by the caller.
func (s *BigQuerySink[T]) Close() error {
	return nil
}
