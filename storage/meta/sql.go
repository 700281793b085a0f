// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package meta

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/gorse-io/rectool/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

type SQLDatabase struct {
	storage.TablePrefix
	db     *sql.DB
	driver SQLDriver
}

func (d *SQLDatabase) Close() error {
	return d.db.Close()
}

// rebind replaces ? placeholders with $n for PostgreSQL.
func (d *SQLDatabase) rebind(query string) string {
	if d.driver != Postgres {
		return query
	}
	var (
		builder strings.Builder
		n       int
	)
	for _, c := range query {
		if c == '?' {
			n++
			builder.WriteString("$" + strconv.Itoa(n))
		} else {
			builder.WriteRune(c)
		}
	}
	return builder.String()
}

func (d *SQLDatabase) Init() error {
	var timeType, floatType string
	switch d.driver {
	case MySQL:
		timeType, floatType = "DATETIME(6)", "DOUBLE"
	case Postgres:
		timeType, floatType = "TIMESTAMP", "DOUBLE PRECISION"
	case SQLite:
		timeType, floatType = "DATETIME", "REAL"
	}
	for _, statement := range []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(256) NOT NULL,
	model VARCHAR(64) NOT NULL,
	dataset VARCHAR(64) NOT NULL,
	status VARCHAR(16) NOT NULL,
	start_time %s NOT NULL,
	end_time %s NULL
)`, d.RunsTable(), timeType, timeType),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id VARCHAR(64) NOT NULL,
	name VARCHAR(64) NOT NULL,
	value VARCHAR(256) NOT NULL,
	PRIMARY KEY (run_id, name)
)`, d.ParamsTable()),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id VARCHAR(64) NOT NULL,
	step INTEGER NOT NULL,
	name VARCHAR(64) NOT NULL,
	value %s NOT NULL,
	log_time %s NOT NULL,
	PRIMARY KEY (run_id, step, name)
)`, d.MetricsTable(), floatType, timeType),
	} {
		if _, err := d.db.Exec(statement); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// CreateRun inserts a run. An id is generated if the run has none and the status defaults to running.
func (d *SQLDatabase) CreateRun(run *Run) error {
	if run.Id == "" {
		run.Id = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now()
	}
	if _, err := d.db.Exec(d.rebind(fmt.Sprintf(
		"INSERT INTO %s (id, name, model, dataset, status, start_time) VALUES (?, ?, ?, ?, ?, ?)", d.RunsTable())),
		run.Id, run.Name, run.Model, run.Dataset, run.Status, run.StartTime.UTC()); err != nil {
		return errors.Trace(err)
	}
	if len(run.Params) > 0 {
		return d.LogParams(run.Id, run.Params)
	}
	return nil
}

func (d *SQLDatabase) FinishRun(id, status string, endTime time.Time) error {
	result, err := d.db.Exec(d.rebind(fmt.Sprintf(
		"UPDATE %s SET status = ?, end_time = ? WHERE id = ?", d.RunsTable())),
		status, endTime.UTC(), id)
	if err != nil {
		return errors.Trace(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Trace(err)
	}
	if affected == 0 {
		return errors.NotFoundf("run %s", id)
	}
	return nil
}

func (d *SQLDatabase) upsert(table string, keys []string, update string) string {
	columns := append(keys, update)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)
	if d.driver == MySQL {
		query += fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = VALUES(%s)", update, update)
	} else {
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s = excluded.%s", strings.Join(keys, ", "), update, update)
	}
	return d.rebind(query)
}

func (d *SQLDatabase) exists(id string) error {
	var n int
	if err := d.db.QueryRow(d.rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", d.RunsTable())), id).Scan(&n); err != nil {
		return errors.Trace(err)
	}
	if n == 0 {
		return errors.NotFoundf("run %s", id)
	}
	return nil
}

func (d *SQLDatabase) LogParams(id string, params map[string]string) error {
	if err := d.exists(id); err != nil {
		return err
	}
	tx, err := d.db.Begin()
	if err != nil {
		return errors.Trace(err)
	}
	query := d.upsert(d.ParamsTable(), []string{"run_id", "name"}, "value")
	for name, value := range params {
		if _, err = tx.Exec(query, id, name, value); err != nil {
			_ = tx.Rollback()
			return errors.Trace(err)
		}
	}
	return errors.Trace(tx.Commit())
}

func (d *SQLDatabase) LogMetric(id string, step int, name string, value float64) error {
	if err := d.exists(id); err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (run_id, step, name, value, log_time) VALUES (?, ?, ?, ?, ?)", d.MetricsTable())
	if d.driver == MySQL {
		query += " ON DUPLICATE KEY UPDATE value = VALUES(value), log_time = VALUES(log_time)"
	} else {
		query += " ON CONFLICT (run_id, step, name) DO UPDATE SET value = excluded.value, log_time = excluded.log_time"
	}
	_, err := d.db.Exec(d.rebind(query), id, step, name, value, time.Now().UTC())
	return errors.Trace(err)
}

func (d *SQLDatabase) params(id string) (map[string]string, error) {
	rs, err := d.db.Query(d.rebind(fmt.Sprintf("SELECT name, value FROM %s WHERE run_id = ?", d.ParamsTable())), id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rs.Close()
	params := make(map[string]string)
	for rs.Next() {
		var name, value string
		if err = rs.Scan(&name, &value); err != nil {
			return nil, errors.Trace(err)
		}
		params[name] = value
	}
	return params, errors.Trace(rs.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run     Run
		endTime sql.NullTime
	)
	if err := s.Scan(&run.Id, &run.Name, &run.Model, &run.Dataset, &run.Status, &run.StartTime, &endTime); err != nil {
		return nil, err
	}
	if endTime.Valid {
		run.EndTime = endTime.Time
	}
	return &run, nil
}

type rowsScanner interface {
	scanner
	Next() bool
	Err() error
	Close() error
}

// scanRuns reads all rows and closes them.
func scanRuns(rs rowsScanner) ([]*Run, error) {
	defer rs.Close()
	var runs []*Run
	for rs.Next() {
		run, err := scanRun(rs)
		if err != nil {
			return nil, errors.Trace(err)
		}
		runs = append(runs, run)
	}
	if err := rs.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return runs, errors.Trace(rs.Close())
}

func (d *SQLDatabase) GetRun(id string) (*Run, error) {
	run, err := scanRun(d.db.QueryRow(d.rebind(fmt.Sprintf(
		"SELECT id, name, model, dataset, status, start_time, end_time FROM %s WHERE id = ?", d.RunsTable())), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf("run %s", id)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	if run.Params, err = d.params(id); err != nil {
		return nil, errors.Trace(err)
	}
	return run, nil
}

// ListRuns returns all runs, latest first.
func (d *SQLDatabase) ListRuns() ([]*Run, error) {
	rs, err := d.db.Query(fmt.Sprintf(
		"SELECT id, name, model, dataset, status, start_time, end_time FROM %s ORDER BY start_time DESC, id", d.RunsTable()))
	if err != nil {
		return nil, errors.Trace(err)
	}
	runs, err := scanRuns(rs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, run := range runs {
		if run.Params, err = d.params(run.Id); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return runs, nil
}

// ListMetrics returns metrics of a run ordered by step.
func (d *SQLDatabase) ListMetrics(id string) ([]Metric, error) {
	if err := d.exists(id); err != nil {
		return nil, err
	}
	rs, err := d.db.Query(d.rebind(fmt.Sprintf(
		"SELECT run_id, step, name, value, log_time FROM %s WHERE run_id = ? ORDER BY step, name", d.MetricsTable())), id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rs.Close()
	var metrics []Metric
	for rs.Next() {
		var metric Metric
		if err = rs.Scan(&metric.RunId, &metric.Step, &metric.Name, &metric.Value, &metric.Timestamp); err != nil {
			return nil, errors.Trace(err)
		}
		metrics = append(metrics, metric)
	}
	return metrics, errors.Trace(rs.Err())
}
