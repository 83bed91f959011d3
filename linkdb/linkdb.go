// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linkdb stores link bring-up records in a MySQL database.
package linkdb // import "github.com/go-lpc/linkup/linkdb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"
	timeout = 5 * time.Second
)

// Schema is the schema of the bring-up records table.
const Schema = `CREATE TABLE IF NOT EXISTS bringups (
	id          BIGINT AUTO_INCREMENT PRIMARY KEY,
	datetime    DATETIME NOT NULL,
	refclk      DOUBLE NOT NULL,
	linerate    DOUBLE NOT NULL,
	family      VARCHAR(8) NOT NULL,
	data_width  INT NOT NULL,
	n1          INT NOT NULL,
	n2          INT NOT NULL,
	m           INT NOT NULL,
	d           INT NOT NULL,
	ready       BOOL NOT NULL,
	elapsed     BIGINT NOT NULL,
	tx_restarts BIGINT UNSIGNED NOT NULL,
	rx_restarts BIGINT UNSIGNED NOT NULL,
	dropped     BIGINT UNSIGNED NOT NULL
)`

const columns = "datetime, refclk, linerate, family, data_width, n1, n2, m, d, ready, elapsed, tx_restarts, rx_restarts, dropped"

// Record describes one link bring-up attempt.
type Record struct {
	ID        int64
	Date      time.Time
	RefClk    float64 // Hz
	LineRate  float64 // bps
	Family    string
	DataWidth int

	N1, N2, M, D int

	Ready      bool
	Elapsed    time.Duration // time to ready, or time spent trying
	TxRestarts uint64
	RxRestarts uint64
	Dropped    uint64
}

// DB exposes convenience methods to store and retrieve bring-up records.
type DB struct {
	db   *sql.DB
	name string // name of the database
}

// Open opens a connection to the database described by the provided
// MySQL data source name.
func Open(dsn string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("linkdb: could not parse DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open(drvName, cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("linkdb: could not open %q db: %w", cfg.DBName, err)
	}

	err = ping(db, cfg.DBName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: cfg.DBName}, nil
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("linkdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Name() string { return db.name }

func (db *DB) Close() error {
	return db.db.Close()
}

// Init creates the records table, if needed.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(ctx, Schema)
	if err != nil {
		return fmt.Errorf("linkdb: could not create bringups table: %w", err)
	}
	return nil
}

// Insert stores a record and returns its identifier.
func (db *DB) Insert(ctx context.Context, rec Record) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := db.db.ExecContext(
		ctx,
		"INSERT INTO bringups ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.Date.UTC(), rec.RefClk, rec.LineRate, rec.Family, rec.DataWidth,
		rec.N1, rec.N2, rec.M, rec.D,
		rec.Ready, int64(rec.Elapsed), rec.TxRestarts, rec.RxRestarts, rec.Dropped,
	)
	if err != nil {
		return 0, fmt.Errorf("linkdb: could not insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("linkdb: could not retrieve record id: %w", err)
	}
	return id, nil
}

// Last returns the n most recent records, most recent first.
func (db *DB) Last(ctx context.Context, n int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT id, "+columns+" FROM bringups ORDER BY datetime DESC LIMIT ?", n,
	)
	if err != nil {
		return nil, fmt.Errorf("linkdb: could not query records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			rec     Record
			elapsed int64
		)
		err = rows.Scan(
			&rec.ID, &rec.Date, &rec.RefClk, &rec.LineRate, &rec.Family, &rec.DataWidth,
			&rec.N1, &rec.N2, &rec.M, &rec.D,
			&rec.Ready, &elapsed, &rec.TxRestarts, &rec.RxRestarts, &rec.Dropped,
		)
		if err != nil {
			return nil, fmt.Errorf("linkdb: could not scan record: %w", err)
		}
		rec.Elapsed = time.Duration(elapsed)
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("linkdb: could not scan db for records: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("linkdb: context error while retrieving records: %w", err)
	}

	return recs, nil
}
