// Package sqlstore persists records as JSON documents, one table per
// collection, on postgres (jsonb) or sqlite (json1).
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gtfsload/internal/common/db"
	"github.com/gtfsload/internal/store"
)

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

const insertChunk = 1000

// Store implements store.Store on a *db.DB.
type Store struct {
	db      *db.DB
	dialect dialect

	mu     sync.Mutex
	tables map[string]bool
}

// New prepares a store on an open database.
func New(ctx context.Context, database *db.DB) (*Store, error) {
	d, err := dialectFor(database.Driver())
	if err != nil {
		return nil, err
	}
	for _, stmt := range d.setup() {
		if _, err := database.Conn().ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("preparing store: %w", err)
		}
	}
	return &Store{
		db:      database,
		dialect: d,
		tables:  make(map[string]bool),
	}, nil
}

// ensureTable creates the collection's table on first use.
func (s *Store) ensureTable(ctx context.Context, collection string) (string, error) {
	if !identRe.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	table := s.dialect.table(collection)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[collection] {
		return table, nil
	}

	if _, err := s.db.Conn().ExecContext(ctx, s.dialect.createTable(table)); err != nil {
		return "", fmt.Errorf("creating table %s: %w", table, err)
	}
	idx := s.dialect.index(strings.ReplaceAll(table, ".", "_")+"_agency_key", table, []string{store.AgencyKeyField})
	if _, err := s.db.Conn().ExecContext(ctx, idx); err != nil {
		return "", fmt.Errorf("indexing table %s: %w", table, err)
	}
	s.tables[collection] = true
	return table, nil
}

type row struct {
	id        string
	agencyKey string
	data      []byte
}

func (s *Store) InsertMany(ctx context.Context, collection string, records []store.Record) (int, error) {
	table, err := s.ensureTable(ctx, collection)
	if err != nil {
		return 0, err
	}

	var errs []error
	rows := make([]row, 0, len(records))
	for i, r := range records {
		key, ok := r.AgencyKey()
		if !ok {
			errs = append(errs, fmt.Errorf("record %d: %w", i, store.ErrMissingAgencyKey))
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: encoding: %w", i, err))
			continue
		}
		rows = append(rows, row{id: uuid.NewString(), agencyKey: key, data: data})
	}

	written := 0
	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		err := s.insertChunk(ctx, table, chunk)
		if err == nil {
			written += len(chunk)
			continue
		}
		s.db.Logger().Warn("Chunk insert failed, retrying row by row",
			"table", table, "rows", len(chunk), "error", err)

		// The chunk is all or nothing; retry row by row so one bad record
		// does not cost the others.
		for _, r := range chunk {
			query, args := s.buildInsertQuery(table, []row{r})
			if _, err := s.db.Conn().ExecContext(ctx, query, args...); err != nil {
				errs = append(errs, fmt.Errorf("inserting %s: %w", r.id, err))
				continue
			}
			written++
		}
	}

	if len(errs) > 0 {
		return written, &store.BulkWriteError{Collection: collection, Attempted: len(records), Errs: errs}
	}
	return written, nil
}

// insertChunk writes one multi-row statement inside a transaction.
func (s *Store) insertChunk(ctx context.Context, table string, chunk []row) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query, args := s.buildInsertQuery(table, chunk)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) buildInsertQuery(table string, rows []row) (string, []interface{}) {
	var sb strings.Builder
	args := make([]interface{}, 0, len(rows)*3)

	sb.WriteString(fmt.Sprintf("INSERT INTO %s (id, agency_key, data) VALUES ", table))
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("(%s, %s, %s)",
			s.dialect.placeholder(i*3+1),
			s.dialect.placeholder(i*3+2),
			s.dialect.castData(s.dialect.placeholder(i*3+3))))
		args = append(args, r.id, r.agencyKey, string(r.data))
	}
	return sb.String(), args
}

func (s *Store) DeleteAgency(ctx context.Context, collection, agencyKey string) (int64, error) {
	table, err := s.ensureTable(ctx, collection)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Conn().ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE agency_key = %s", table, s.dialect.placeholder(1)),
		agencyKey)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (s *Store) Find(ctx context.Context, collection, agencyKey string) ([]store.Document, error) {
	table, err := s.ensureTable(ctx, collection)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Conn().QueryContext(ctx,
		fmt.Sprintf("SELECT id, data FROM %s WHERE agency_key = %s ORDER BY seq", table, s.dialect.placeholder(1)),
		agencyKey)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s/%s: %w", table, id, err)
		}
		docs = append(docs, store.Document{ID: store.ID(id), Record: rec})
	}
	return docs, rows.Err()
}

func (s *Store) FindOne(ctx context.Context, collection, agencyKey string, match map[string]string) (store.ID, bool, error) {
	table, err := s.ensureTable(ctx, collection)
	if err != nil {
		return "", false, err
	}

	fields := make([]string, 0, len(match))
	for f := range match {
		if !identRe.MatchString(f) {
			return "", false, fmt.Errorf("invalid field name %q", f)
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)

	where := []string{"agency_key = " + s.dialect.placeholder(1)}
	args := []interface{}{agencyKey}
	for i, f := range fields {
		where = append(where, fmt.Sprintf("%s = %s", s.dialect.jsonField(f), s.dialect.placeholder(i+2)))
		args = append(args, match[f])
	}

	query := fmt.Sprintf("SELECT id FROM %s WHERE %s ORDER BY seq LIMIT 1", table, strings.Join(where, " AND "))
	var id string
	err = s.db.Conn().QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up %s: %w", table, err)
	}
	return store.ID(id), true, nil
}

func (s *Store) Update(ctx context.Context, collection string, id store.ID, fields store.Record) error {
	table, err := s.ensureTable(ctx, collection)
	if err != nil {
		return err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		table, s.dialect.mergeData(s.dialect.placeholder(1)), s.dialect.placeholder(2))
	res, err := s.db.Conn().ExecContext(ctx, query, string(data), string(id))
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating %s/%s: not found", table, id)
	}
	return nil
}

func (s *Store) UpdateAgency(ctx context.Context, collection, agencyKey string, fields store.Record) (int64, error) {
	table, err := s.ensureTable(ctx, collection)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("encoding update: %w", err)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE agency_key = %s",
		table, s.dialect.mergeData(s.dialect.placeholder(1)), s.dialect.placeholder(2))
	res, err := s.db.Conn().ExecContext(ctx, query, string(data), agencyKey)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (s *Store) EnsureIndexes(ctx context.Context, collection string, indexes []store.Index) error {
	table, err := s.ensureTable(ctx, collection)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if !identRe.MatchString(idx.Name) {
			return fmt.Errorf("invalid index name %q", idx.Name)
		}
		for _, f := range idx.Fields {
			if !identRe.MatchString(f) {
				return fmt.Errorf("invalid index field %q", f)
			}
		}
		if _, err := s.db.Conn().ExecContext(ctx, s.dialect.index(idx.Name, table, idx.Fields)); err != nil {
			return fmt.Errorf("creating index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// decodeRecord keeps integral JSON numbers as int64 so records read back
// look like the ones that were written.
func decodeRecord(data []byte) (store.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return store.Record(convertNumbers(m).(map[string]interface{})), nil
}

func convertNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, e := range t {
			t[k] = convertNumbers(e)
		}
		return t
	case []interface{}:
		// Coordinate arrays come back as []float64, like they were written.
		nums := make([]float64, 0, len(t))
		for i, e := range t {
			t[i] = convertNumbers(e)
			switch n := t[i].(type) {
			case int64:
				nums = append(nums, float64(n))
			case float64:
				nums = append(nums, n)
			}
		}
		if len(nums) == len(t) {
			return nums
		}
		return t
	}
	return v
}
