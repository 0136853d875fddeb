package signal

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Visit is one page load in the navigation ledger.
type Visit struct {
	Path string `json:"path"`
	Ts   int64  `json:"ts"`
}

// Ledger is the navigation history of one tab session. It survives page
// loads and is used to detect navigation loops.
type Ledger struct {
	Paths map[string]int `json:"paths"`
	Order []Visit        `json:"order"`
}

// NewLedger returns an empty ledger.
func NewLedger() Ledger {
	return Ledger{Paths: map[string]int{}, Order: []Visit{}}
}

// record counts a visit and appends it to the order, dropping the oldest
// records beyond limit.
func (l *Ledger) record(p string, ts int64, limit int) {
	if l.Paths == nil {
		l.Paths = map[string]int{}
	}
	l.Paths[p]++
	l.Order = append(l.Order, Visit{Path: p, Ts: ts})
	if limit > 0 && len(l.Order) > limit {
		l.Order = append([]Visit(nil), l.Order[len(l.Order)-limit:]...)
	}
}

// LedgerStore persists ledgers per session scope.
type LedgerStore interface {
	Get(scope string) (Ledger, error)
	Put(scope string, l Ledger) error
}

// Storage is the tab-scoped string key-value slot a host provides, the
// equivalent of a browser's sessionStorage.
type Storage interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
}

const ledgerKeyPrefix = "ifai_nav:"

// KVLedgerStore keeps ledgers as JSON documents in a Storage.
type KVLedgerStore struct {
	storage Storage
}

// NewKVLedgerStore adapts a Storage into a LedgerStore.
func NewKVLedgerStore(s Storage) *KVLedgerStore {
	return &KVLedgerStore{storage: s}
}

// Get loads the ledger for scope. A missing ledger is empty; a malformed one
// is reported as an error together with an empty ledger.
func (k *KVLedgerStore) Get(scope string) (Ledger, error) {
	raw, ok := k.storage.GetItem(ledgerKeyPrefix + scope)
	if !ok || raw == "" {
		return NewLedger(), nil
	}
	var l Ledger
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return NewLedger(), fmt.Errorf("failed to decode navigation ledger: %w", err)
	}
	if l.Paths == nil {
		l.Paths = map[string]int{}
	}
	for p, n := range l.Paths {
		if n < 0 {
			delete(l.Paths, p)
		}
	}
	if l.Order == nil {
		l.Order = []Visit{}
	}
	return l, nil
}

// Put stores the ledger for scope.
func (k *KVLedgerStore) Put(scope string, l Ledger) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to encode navigation ledger: %w", err)
	}
	if err := k.storage.SetItem(ledgerKeyPrefix+scope, string(raw)); err != nil {
		return fmt.Errorf("failed to persist navigation ledger: %w", err)
	}
	return nil
}

// NormalizePath canonicalizes a page path and query so equivalent URLs share
// one ledger entry: the path is cleaned and loses its trailing slash, the
// query is re-encoded with sorted keys, and fragments are ignored.
func NormalizePath(rawPath, rawQuery string) string {
	p := rawPath
	if i := strings.IndexByte(p, '#'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		p = "/"
	}
	p = path.Clean("/" + p)

	q := strings.TrimPrefix(rawQuery, "?")
	if i := strings.IndexByte(q, '#'); i >= 0 {
		q = q[:i]
	}
	if q == "" {
		return p
	}
	values, err := url.ParseQuery(q)
	if err != nil {
		// Keep an unparseable query verbatim rather than dropping it.
		return p + "?" + q
	}
	if encoded := values.Encode(); encoded != "" {
		return p + "?" + encoded
	}
	return p
}
