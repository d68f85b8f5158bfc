package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hurttlocker/smcluster/internal/affinity"
	"github.com/hurttlocker/smcluster/internal/report"
)

// SaveRun stores a run and its report rows in one transaction. A run
// without an ID gets a fresh UUID; the stored ID is returned.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run, rows []report.Row) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	inputs, err := json.Marshal(nonNil(run.Inputs))
	if err != nil {
		return "", fmt.Errorf("encoding inputs: %w", err)
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return "", fmt.Errorf("encoding params: %w", err)
	}
	if run.Params == nil {
		params = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning run save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, inputs, params, nodes, edges, content_items, clusters, clustered_pages)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(timeLayout), string(inputs), string(params),
		run.Nodes, run.Edges, run.ContentItems, run.Clusters, run.ClusteredPages,
	)
	if err != nil {
		return "", fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cluster_members (
			run_id, position, cluster_id, cluster_seed, cluster_size, cluster_score,
			nameid, title, followers, total_interactions, num_posts,
			coverage_within_cluster, pmi_with_seed, npmi_with_seed, dnpmi_with_seed, dnpmi_cov,
			country, name, url, cluster_lang, page_lang
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing member insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		var pmi sql.NullFloat64
		if r.PMIWithSeed.Signal {
			pmi = sql.NullFloat64{Float64: r.PMIWithSeed.Value, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			run.ID, i, r.ClusterID, r.ClusterSeed, r.ClusterSize, r.ClusterScore,
			r.NameID, r.Title, r.Followers, r.TotalInteractions, r.NumPosts,
			r.CoverageWithinCluster, pmi, r.NPMIWithSeed, r.DNPMIWithSeed, r.DNPMICov,
			r.Country, r.Name, r.URL, r.ClusterLang, r.PageLang,
		)
		if err != nil {
			return "", fmt.Errorf("inserting member %s: %w", r.NameID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run %s: %w", run.ID, err)
	}
	return run.ID, nil
}

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, created_at, inputs, params, nodes, edges, content_items, clusters, clustered_pages`

// ListRuns returns stored runs, newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// GetRun returns one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// RunRows returns the report rows of a run in their stored order.
func (s *SQLiteStore) RunRows(ctx context.Context, id string) ([]report.Row, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT cluster_id, cluster_seed, cluster_size, cluster_score,
			nameid, title, followers, total_interactions, num_posts,
			coverage_within_cluster, pmi_with_seed, npmi_with_seed, dnpmi_with_seed, dnpmi_cov,
			country, name, url, cluster_lang, page_lang
		 FROM cluster_members WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying members of %s: %w", id, err)
	}
	defer rows.Close()

	var out []report.Row
	for rows.Next() {
		var r report.Row
		var pmi sql.NullFloat64
		err := rows.Scan(
			&r.ClusterID, &r.ClusterSeed, &r.ClusterSize, &r.ClusterScore,
			&r.NameID, &r.Title, &r.Followers, &r.TotalInteractions, &r.NumPosts,
			&r.CoverageWithinCluster, &pmi, &r.NPMIWithSeed, &r.DNPMIWithSeed, &r.DNPMICov,
			&r.Country, &r.Name, &r.URL, &r.ClusterLang, &r.PageLang,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		if pmi.Valid {
			r.PMIWithSeed = affinity.PMI{Value: pmi.Float64, Signal: true}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its members.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning run delete: %w", err)
	}
	defer tx.Rollback()

	// foreign_keys is per connection, so members are removed explicitly
	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_members WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("deleting members of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var created, inputs, params string
	err := sc.Scan(&run.ID, &created, &inputs, &params,
		&run.Nodes, &run.Edges, &run.ContentItems, &run.Clusters, &run.ClusteredPages)
	if err != nil {
		return nil, err
	}
	if run.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(inputs), &run.Inputs); err != nil {
		return nil, fmt.Errorf("decoding inputs of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("decoding params of %s: %w", run.ID, err)
	}
	return &run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
