// Package memory provides in-memory storage backends. They exist for unit
// tests and local experiments; collectors run against postgres.
package memory

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

// DB is the shared state behind all memory stores. Snapshot, market, and
// volume data live together because several queries join across them.
type DB struct {
	mu sync.RWMutex

	markets         map[uuid.UUID]*domain.Market
	marketsBySource map[string]uuid.UUID // source|source_id
	tokens          map[uuid.UUID]*domain.Token
	tokensByMarket  map[string]uuid.UUID // market_id|outcome

	snapshots map[uuid.UUID][]*domain.Snapshot // sorted by Ts ascending

	totalNotional map[uuid.UUID]float64
	tradeCounts   map[uuid.UUID]int64
	volumeHourly  map[uuid.UUID]map[time.Time]float64
	spikes        []*domain.VolumeSpike

	moverRows []*domain.MoverCacheRow
	alerts    []*domain.Alert

	pairs         map[uuid.UUID]*memPair
	opportunities []*domain.ArbitrageOpportunity

	stats map[uuid.UUID]*domain.MarketStats

	kv map[string]json.RawMessage
}

type memPair struct {
	pairID             uuid.UUID
	polymarketMarketID uuid.UUID
	kalshiMarketID     uuid.UUID
	active             bool
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		markets:         make(map[uuid.UUID]*domain.Market),
		marketsBySource: make(map[string]uuid.UUID),
		tokens:          make(map[uuid.UUID]*domain.Token),
		tokensByMarket:  make(map[string]uuid.UUID),
		snapshots:       make(map[uuid.UUID][]*domain.Snapshot),
		totalNotional:   make(map[uuid.UUID]float64),
		tradeCounts:     make(map[uuid.UUID]int64),
		volumeHourly:    make(map[uuid.UUID]map[time.Time]float64),
		pairs:           make(map[uuid.UUID]*memPair),
		stats:           make(map[uuid.UUID]*domain.MarketStats),
		kv:              make(map[string]json.RawMessage),
	}
}

func sourceKey(source domain.Source, sourceID string) string {
	return string(source) + "|" + sourceID
}

func tokenKey(marketID uuid.UUID, outcome string) string {
	return marketID.String() + "|" + outcome
}

// latestSnapshotLocked returns the newest snapshot for a token, or nil.
// Callers must hold at least a read lock.
func (db *DB) latestSnapshotLocked(tokenID uuid.UUID) *domain.Snapshot {
	snaps := db.snapshots[tokenID]
	if len(snaps) == 0 {
		return nil
	}
	return snaps[len(snaps)-1]
}

// atOrBeforeLocked returns the newest snapshot at or before ts, or nil.
func (db *DB) atOrBeforeLocked(tokenID uuid.UUID, ts time.Time) *domain.Snapshot {
	snaps := db.snapshots[tokenID]
	for i := len(snaps) - 1; i >= 0; i-- {
		if !snaps[i].Ts.After(ts) {
			return snaps[i]
		}
	}
	return nil
}
