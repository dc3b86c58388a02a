package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite3"
)

type DB struct {
	conn   *sql.DB
	driver string
}

func Open(driver, dsn string) (*DB, error) {
	if driver != DriverPostgres && driver != DriverSqlite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSqlite {
		// sqlite allows a single writer
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{conn: conn, driver: driver}, nil
}

func (db *DB) Ping() error {
	return db.conn.Ping()
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// rebind rewrites ? placeholders into the numbered form postgres expects.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}

	return b.String()
}
