package engine

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/medsidd/whyline-denver/internal/models"
)

// BigQuery is the remote, metered engine. Every execution carries a hard
// MaxBytesBilled cap as a second line of defense behind the admission
// controller's dry-run estimate, since estimate and actual cost can drift.
type BigQuery struct {
	client   *bigquery.Client
	location string
}

var (
	_ Engine    = (*BigQuery)(nil)
	_ Estimator = (*BigQuery)(nil)
)

func NewBigQuery(ctx context.Context, projectID, credentialsFile, location string) (*BigQuery, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return &BigQuery{client: client, location: location}, nil
}

func (e *BigQuery) Name() string { return NameBigQuery }

func (e *BigQuery) Close() error { return e.client.Close() }

// EstimateBytes runs the query as a dry run and reports how many bytes a
// real execution would scan. Nothing is billed.
func (e *BigQuery) EstimateBytes(ctx context.Context, sql string) (int64, error) {
	q := e.client.Query(sql)
	q.DryRun = true
	q.Location = e.location
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("dry run: %w", err)
	}
	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, fmt.Errorf("dry run returned no statistics")
	}
	return status.Statistics.TotalBytesProcessed, nil
}

// Execute runs the query with the byte-billing cap applied. Cancelling the
// context aborts the BigQuery job so cost stops accruing.
func (e *BigQuery) Execute(ctx context.Context, req Request) (*Result, error) {
	q := e.client.Query(req.SQL)
	q.Location = e.location
	if req.MaxBytesBilled > 0 {
		q.MaxBytesBilled = req.MaxBytesBilled
	}

	job, err := q.Run(ctx)
	if err != nil {
		return nil, translateRemoteErr(ctx, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		cancelJob(job)
		return nil, translateRemoteErr(ctx, err)
	}
	if err := status.Err(); err != nil {
		return nil, translateRemoteErr(ctx, err)
	}

	var bytesScanned *int64
	if stats := job.LastStatus().Statistics; stats != nil {
		b := stats.TotalBytesProcessed
		bytesScanned = &b
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, translateRemoteErr(ctx, err)
	}

	var columns []string
	var out []map[string]any
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, translateRemoteErr(ctx, err)
		}
		if columns == nil && it.Schema != nil {
			for _, f := range it.Schema {
				columns = append(columns, f.Name)
			}
		}
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v
		}
		out = append(out, m)
	}

	return &Result{Columns: columns, Rows: out, RowCount: len(out), BytesScanned: bytesScanned}, nil
}

// cancelJob aborts a running job after the caller has gone away. Uses a fresh
// context because the caller's is already cancelled.
func cancelJob(job *bigquery.Job) {
	if job == nil {
		return
	}
	if err := job.Cancel(context.Background()); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID()).Msg("bigquery: job cancel failed")
	}
}

func translateRemoteErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.WrapQueryError(models.KindCancelled, err, "query cancelled")
	}
	return models.WrapQueryError(models.KindExecution, err, "remote query failed")
}
