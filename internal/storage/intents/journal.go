// Package intents journals every on-chain submission so that an operator can
// reconcile submissions interrupted by a crash. Entries are never used for decisions.
package intents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/topup/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultJournalDir  = "./wal/intents"
	intentKeyPrefix    = "submission_intent_"
	intentSegmentLimit = 1000
	intentMaxSegments  = 100
)

// Status of a journaled submission.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Intent is one submission attempt.
type Intent struct {
	ID        string       `json:"id"`
	CycleID   string       `json:"cycle_id,omitempty"`
	Stage     domain.Stage `json:"stage"`
	Ledger    string       `json:"ledger"`
	Token     string       `json:"token"`
	Amount    string       `json:"amount"`
	Target    string       `json:"target"`
	TxID      string       `json:"tx_id,omitempty"`
	Status    Status       `json:"status"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Journal is a WAL-backed submission journal.
type Journal struct {
	wal     *gowal.Wal
	mu      sync.Mutex
	intents map[string]*Intent
	now     func() time.Time
}

// Open opens (or creates) the journal under dir and replays existing entries.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "intent_",
		SegmentThreshold: intentSegmentLimit,
		MaxSegments:      intentMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init intent journal WAL")
	}

	j := &Journal{wal: wal, intents: make(map[string]*Intent), now: time.Now}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}
		var intent Intent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			_ = wal.Close()
			return nil, errors.Wrapf(err, "decode intent %s", msg.Key)
		}
		// later entries for the same id supersede earlier ones
		j.intents[intent.ID] = &intent
	}

	return j, nil
}

// Begin journals a pending submission and returns its id.
func (j *Journal) Begin(ctx context.Context, stage domain.Stage, amount domain.TokenAmount, target string) (string, error) {
	now := j.now()
	intent := &Intent{
		ID:        uuid.New().String(),
		CycleID:   domain.CycleID(ctx),
		Stage:     stage,
		Ledger:    amount.Token.Ledger.String(),
		Token:     amount.Token.Symbol,
		Amount:    amount.Units().String(),
		Target:    target,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.persist(intent); err != nil {
		return "", err
	}
	j.intents[intent.ID] = intent
	return intent.ID, nil
}

// Complete marks the submission as confirmed.
func (j *Journal) Complete(id, txID string) error {
	return j.update(id, func(in *Intent) {
		in.Status = StatusDone
		in.TxID = txID
		in.Error = ""
	})
}

// Fail marks the submission as failed. txID may be empty when nothing was broadcast.
func (j *Journal) Fail(id, txID string, cause error) error {
	return j.update(id, func(in *Intent) {
		in.Status = StatusFailed
		if txID != "" {
			in.TxID = txID
		}
		if cause != nil {
			in.Error = cause.Error()
		}
	})
}

// Pending returns submissions that never reached a terminal status, oldest first.
func (j *Journal) Pending() []Intent {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Intent
	for _, in := range j.intents {
		if in.Status == StatusPending {
			out = append(out, *in)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Get returns the intent with id.
func (j *Journal) Get(id string) (Intent, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	in, ok := j.intents[id]
	if !ok {
		return Intent{}, false
	}
	return *in, true
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.Close()
}

func (j *Journal) update(id string, fn func(*Intent)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	intent, ok := j.intents[id]
	if !ok {
		return fmt.Errorf("intent %s not found", id)
	}

	updated := *intent
	fn(&updated)
	updated.UpdatedAt = j.now()
	if err := j.persist(&updated); err != nil {
		return err
	}
	j.intents[id] = &updated
	return nil
}

func (j *Journal) persist(intent *Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "marshal intent")
	}
	key := intentKeyPrefix + intent.ID
	return j.wal.Write(j.wal.CurrentIndex()+1, key, data)
}
