package domain

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies the venue a market was ingested from.
type Source string

const (
	SourcePolymarket Source = "polymarket"
	SourceKalshi     Source = "kalshi"
)

// Market status values. Status moves forward (active -> closed/resolved) in
// practice but this is not enforced; refreshes write whatever the venue reports.
const (
	MarketStatusActive   = "active"
	MarketStatusClosed   = "closed"
	MarketStatusResolved = "resolved"
)

// Market is one venue-scoped proposition. Identity is (Source, SourceID).
// Corresponds to the markets table.
type Market struct {
	MarketID        uuid.UUID
	Source          Source
	SourceID        string // venue's market identifier
	Title           string
	Category        *string
	Status          string
	URL             *string
	EndDate         *time.Time
	ResolvedOutcome *string // "YES" | "NO" once resolved
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Token outcome legs.
const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"
)

// Token is one outcome leg of a Market. Identity is (MarketID, Outcome).
// SourceTokenID is the venue's asset identifier used as the wire-level
// subscription key; it is distinct from the internal TokenID.
type Token struct {
	TokenID       uuid.UUID
	MarketID      uuid.UUID
	Outcome       string
	SourceTokenID string
	CreatedAt     time.Time
}

// ActiveToken is a Token joined with its market and last persisted snapshot
// state, as loaded when (re)building a venue's subscription universe.
type ActiveToken struct {
	TokenID       uuid.UUID
	SourceTokenID string
	MarketID      uuid.UUID
	EndDate       *time.Time

	// Last persisted snapshot, nil/zero when the token has never been written.
	LastPrice     *float64
	LastWrittenAt *time.Time
	LastSpread    *float64
}
