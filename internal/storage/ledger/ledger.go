// Package ledger keeps the append-only CSV transaction ledger used for manual reconciliation.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/topup/internal/domain"
)

const (
	backupDirName   = "backups"
	backupTimestamp = "20060102T150405Z"
)

var header = []string{
	"timestamp", "kind", "chain",
	"from_token", "from_amount", "to_token", "to_amount",
	"rate", "price_impact_percent",
	"from", "to", "tx_ids", "fee", "note",
}

// CSVLedger appends TransactionRecords to a CSV file.
type CSVLedger struct {
	path string
	mu   sync.Mutex
}

// New creates the ledger file with a header if it does not exist yet.
func New(path string) (*CSVLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger dir")
	}

	l := &CSVLedger{path: path}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.Size() > 0:
		return l, nil
	case err != nil && !os.IsNotExist(err):
		return nil, errors.Wrap(err, "stat ledger")
	}

	if err := l.write(header); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *CSVLedger) Path() string { return l.path }

// Append writes one record. Amounts are written in human units.
func (l *CSVLedger) Append(r domain.TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.write([]string{
		r.Timestamp.UTC().Format(time.RFC3339),
		string(r.Kind),
		r.Chain.String(),
		r.FromToken,
		r.FromAmount.String(),
		r.ToToken,
		r.ToAmount.String(),
		r.Rate.String(),
		r.PriceImpact.String(),
		r.From,
		r.To,
		strings.Join(r.TxIDs, ";"),
		r.Fee.String(),
		r.Note,
	})
}

func (l *CSVLedger) write(row []string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open ledger")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return errors.Wrap(err, "write ledger row")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush ledger")
	}
	return f.Sync()
}

// Backup copies the ledger to a timestamped file next to it and returns the copy's path.
func (l *CSVLedger) Backup(now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Join(filepath.Dir(l.path), backupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create backup dir")
	}

	src, err := os.Open(l.path)
	if err != nil {
		return "", errors.Wrap(err, "open ledger")
	}
	defer src.Close()

	dst := filepath.Join(dir, fmt.Sprintf("%s-%s%s", l.baseName(), now.UTC().Format(backupTimestamp), filepath.Ext(l.path)))
	out, err := os.Create(dst)
	if err != nil {
		return "", errors.Wrap(err, "create backup")
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", errors.Wrap(err, "copy ledger")
	}
	if err := out.Close(); err != nil {
		return "", errors.Wrap(err, "close backup")
	}

	return dst, nil
}

// Prune removes backups older than retention and returns the removed paths.
func (l *CSVLedger) Prune(retention time.Duration, now time.Time) ([]string, error) {
	dir := filepath.Join(filepath.Dir(l.path), backupDirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list backups")
	}

	prefix := l.baseName() + "-"
	cutoff := now.Add(-retention)

	var removed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), filepath.Ext(name))
		taken, err := time.Parse(backupTimestamp, stamp)
		if err != nil || !taken.Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			return removed, errors.Wrapf(err, "remove backup %s", name)
		}
		removed = append(removed, path)
	}

	sort.Strings(removed)
	return removed, nil
}

func (l *CSVLedger) baseName() string {
	base := filepath.Base(l.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
