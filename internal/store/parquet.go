package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// ParquetArchive exports ledger records to Parquet files on disk, one file
// per user per trading day. It is a read-only copy of the ledger for offline
// analysis; the Store remains the system of record.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates a new ParquetArchive rooted at the given data
// directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// LedgerRow is the Parquet schema for an archived trade record. Price is
// kept as its decimal string so the archive is exact.
type LedgerRow struct {
	Seq       int64  `parquet:"seq"`
	ID        string `parquet:"id"`
	UserID    string `parquet:"user_id"`
	Symbol    string `parquet:"symbol"`
	Name      string `parquet:"name"`
	Shares    int64  `parquet:"shares"`
	Price     string `parquet:"price"`
	Timestamp int64  `parquet:"timestamp,timestamp(nanosecond)"` // Unix ns
}

func rowFromRecord(r domain.TradeRecord) LedgerRow {
	return LedgerRow{
		Seq:       r.Seq,
		ID:        r.ID,
		UserID:    r.UserID,
		Symbol:    r.Symbol,
		Name:      r.Name,
		Shares:    r.Shares,
		Price:     r.Price.String(),
		Timestamp: r.Timestamp.UnixNano(),
	}
}

func (r LedgerRow) record() (domain.TradeRecord, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("archived trade %s: price %q: %w", r.ID, r.Price, err)
	}
	return domain.TradeRecord{
		ID:        r.ID,
		Seq:       r.Seq,
		UserID:    r.UserID,
		Symbol:    r.Symbol,
		Name:      r.Name,
		Shares:    r.Shares,
		Price:     price,
		Timestamp: time.Unix(0, r.Timestamp).UTC(),
	}, nil
}

// ---------------------------------------------------------------------------
// Export / Read
// ---------------------------------------------------------------------------

// Export writes records to Parquet files grouped by user and UTC date. Each
// group lands at:
//
//	<DataDir>/ledger/<USER>/<YYYY-MM-DD>.parquet
//
// Exporting the same records twice is idempotent: rows are merged by ID.
// It returns the number of files written.
func (a *ParquetArchive) Export(ctx context.Context, records []domain.TradeRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	type key struct {
		user string
		date string // YYYY-MM-DD
	}
	groups := make(map[key][]LedgerRow)
	for _, r := range records {
		k := key{user: r.UserID, date: r.Timestamp.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], rowFromRecord(r))
	}

	written := 0
	for k, rows := range groups {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		t, _ := time.Parse("2006-01-02", k.date)
		path := a.ledgerPath(k.user, t)

		existing, err := readLedgerRows(path)
		if err != nil {
			return written, fmt.Errorf("reading ledger for %s/%s: %w", k.user, k.date, err)
		}
		merged := mergeLedgerRows(existing, rows)

		if err := writeParquetFile(path, merged); err != nil {
			return written, fmt.Errorf("writing ledger for %s/%s: %w", k.user, k.date, err)
		}
		written++
	}
	return written, nil
}

// Read returns the archived records of userID whose timestamps fall within
// [start, end], ordered by seq. Days without a file are skipped.
func (a *ParquetArchive) Read(ctx context.Context, userID string, start, end time.Time) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	first := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := readLedgerRows(a.ledgerPath(userID, d))
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.UserID != userID {
				continue
			}
			rec, err := row.record()
			if err != nil {
				return nil, err
			}
			if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
				continue
			}
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// ledgerPath returns the filesystem path for a user's daily ledger file.
// Layout: <dataDir>/ledger/<USER>/<YYYY-MM-DD>.parquet
func (a *ParquetArchive) ledgerPath(userID string, t time.Time) string {
	date := t.UTC().Format("2006-01-02")
	return filepath.Join(a.DataDir, "ledger", userDir(userID), date+".parquet")
}

// userDir escapes userID into a single directory name. Distinct IDs map to
// distinct names and none of them leaves the ledger directory.
func userDir(userID string) string {
	seg := url.PathEscape(userID)
	if seg == "." || seg == ".." {
		// PathEscape leaves dots alone; "%" itself is always escaped, so
		// "%2E" cannot come from any other ID.
		seg = strings.ReplaceAll(seg, ".", "%2E")
	}
	return seg
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readLedgerRows reads an existing day file. A missing file is empty; any
// other failure is returned so a damaged file is never overwritten.
func readLedgerRows(path string) ([]LedgerRow, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return readParquetFile[LedgerRow](path)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeLedgerRows deduplicates rows by id, preferring incoming rows over
// existing ones. Results are sorted by seq.
func mergeLedgerRows(existing, incoming []LedgerRow) []LedgerRow {
	seen := make(map[string]LedgerRow, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]LedgerRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Seq < merged[j].Seq
	})
	return merged
}
