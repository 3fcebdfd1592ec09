package ledger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/topup/internal/domain"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVLedger_AppendKeepsHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "transactions.csv")

	l, err := New(path)
	require.NoError(t, err)

	rec := domain.TransactionRecord{
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Kind:        domain.RecordSourceSwap,
		Chain:       domain.LedgerEthereum,
		FromToken:   "USDC",
		FromAmount:  decimal.RequireFromString("1000.5"),
		ToToken:     "ARIO",
		ToAmount:    decimal.RequireFromString("50000"),
		Rate:        decimal.RequireFromString("49.975"),
		PriceImpact: decimal.RequireFromString("0.5"),
		From:        "0xwallet",
		To:          "0xwallet",
		TxIDs:       []string{"0xapprove", "0xswap"},
		Fee:         decimal.RequireFromString("0.0021"),
		Note:        "cycle abc, with comma",
	}
	require.NoError(t, l.Append(rec))

	// reopening must not write a second header
	l, err = New(path)
	require.NoError(t, err)
	rec.Kind = domain.RecordBridgeBurn
	require.NoError(t, l.Append(rec))

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	require.Equal(t, header, rows[0])
	require.Equal(t, "2026-03-01T12:00:00Z", rows[1][0])
	require.Equal(t, "SOURCE_SWAP", rows[1][1])
	require.Equal(t, "0xapprove;0xswap", rows[1][11])
	require.Equal(t, "cycle abc, with comma", rows[1][13])
	require.Equal(t, "BRIDGE_BURN", rows[2][1])
}

func TestCSVLedger_BackupAndPrune(t *testing.T) {
	dir := t.TempDir()
	l, err := New(filepath.Join(dir, "transactions.csv"))
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	old, err := l.Backup(now.Add(-40 * 24 * time.Hour))
	require.NoError(t, err)
	recent, err := l.Backup(now.Add(-time.Hour))
	require.NoError(t, err)
	require.FileExists(t, old)
	require.FileExists(t, recent)
	require.Equal(t, readRows(t, l.Path()), readRows(t, recent))

	// foreign files in the backup dir are left alone
	foreign := filepath.Join(dir, backupDirName, "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("x"), 0o644))

	removed, err := l.Prune(30*24*time.Hour, now)
	require.NoError(t, err)
	require.Equal(t, []string{old}, removed)
	require.NoFileExists(t, old)
	require.FileExists(t, recent)
	require.FileExists(t, foreign)
}

func TestCSVLedger_PruneWithoutBackups(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "transactions.csv"))
	require.NoError(t, err)

	removed, err := l.Prune(time.Hour, time.Now())
	require.NoError(t, err)
	require.Empty(t, removed)
}
