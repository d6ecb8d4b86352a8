// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/models"
)

// Memory is an in-process Store used for development and tests. Writes are
// serialized; Atomic keeps an undo journal and replays it on failure.
type Memory struct {
	mu   sync.Mutex // guards the maps below
	txMu sync.Mutex // serializes writers

	streams       map[uuid.UUID]*models.Stream
	settlements   map[uuid.UUID]*models.Settlement
	listings      map[uuid.UUID]*models.Listing
	rentals       map[uuid.UUID]*models.Rental
	events        map[uuid.UUID][]models.RentalEvent
	disputes      map[uuid.UUID]*models.Dispute
	balances      map[string]int64
	entries       []models.LedgerEntry
	byAccount     map[string][]int // account -> positions in entries, oldest first
	references    map[string]int
	assets        map[string]*models.AssetRecord
	grants        map[uuid.UUID]*models.AccessGrant
	profiles      map[uuid.UUID]*models.ReputationProfile
	users         map[uuid.UUID]*models.User
	notifications []models.AdminNotification
	auditLogs     []models.AuditLog
}

func NewMemory() *Memory {
	return &Memory{
		streams:     make(map[uuid.UUID]*models.Stream),
		settlements: make(map[uuid.UUID]*models.Settlement),
		listings:    make(map[uuid.UUID]*models.Listing),
		rentals:     make(map[uuid.UUID]*models.Rental),
		events:      make(map[uuid.UUID][]models.RentalEvent),
		disputes:    make(map[uuid.UUID]*models.Dispute),
		balances:    make(map[string]int64),
		byAccount:   make(map[string][]int),
		references:  make(map[string]int),
		assets:      make(map[string]*models.AssetRecord),
		grants:      make(map[uuid.UUID]*models.AccessGrant),
		profiles:    make(map[uuid.UUID]*models.ReputationProfile),
		users:       make(map[uuid.UUID]*models.User),
	}
}

// memView is a Store over Memory. The root view has a nil journal.
type memView struct {
	m       *Memory
	journal *[]func()
}

func (m *Memory) root() *memView { return &memView{m: m} }

func (m *Memory) Streams() StreamRepository        { return memStreams{m.root()} }
func (m *Memory) Listings() ListingRepository      { return memListings{m.root()} }
func (m *Memory) Rentals() RentalRepository        { return memRentals{m.root()} }
func (m *Memory) Disputes() DisputeRepository      { return memDisputes{m.root()} }
func (m *Memory) Ledger() LedgerRepository         { return memLedger{m.root()} }
func (m *Memory) Assets() AssetRepository          { return memAssets{m.root()} }
func (m *Memory) Reputation() ReputationRepository { return memReputation{m.root()} }
func (m *Memory) Users() UserRepository            { return memUsers{m.root()} }
func (m *Memory) Admin() AdminRepository           { return memAdmin{m.root()} }

func (m *Memory) Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return m.root().Atomic(ctx, fn)
}

func (v *memView) Streams() StreamRepository        { return memStreams{v} }
func (v *memView) Listings() ListingRepository      { return memListings{v} }
func (v *memView) Rentals() RentalRepository        { return memRentals{v} }
func (v *memView) Disputes() DisputeRepository      { return memDisputes{v} }
func (v *memView) Ledger() LedgerRepository         { return memLedger{v} }
func (v *memView) Assets() AssetRepository          { return memAssets{v} }
func (v *memView) Reputation() ReputationRepository { return memReputation{v} }
func (v *memView) Users() UserRepository            { return memUsers{v} }
func (v *memView) Admin() AdminRepository           { return memAdmin{v} }

func (v *memView) Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if v.journal != nil {
		return fn(WithTx(ctx, v), v)
	}
	if outer, ok := ctx.Value(txCtxKey{}).(*memView); ok && outer.m == v.m && outer.journal != nil {
		return fn(ctx, outer)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	v.m.txMu.Lock()
	defer v.m.txMu.Unlock()

	journal := make([]func(), 0, 16)
	tx := &memView{m: v.m, journal: &journal}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				tx.rollback()
				panic(r)
			}
		}()
		return fn(WithTx(ctx, tx), tx)
	}()
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (v *memView) rollback() {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	for i := len(*v.journal) - 1; i >= 0; i-- {
		(*v.journal)[i]()
	}
	*v.journal = (*v.journal)[:0]
}

// write runs fn with the data lock held. Root views take the writer lock so
// single writes never interleave with an open Atomic unit.
func (v *memView) write(fn func(undo func(func())) error) error {
	if v.journal == nil {
		v.m.txMu.Lock()
		defer v.m.txMu.Unlock()
	}
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return fn(func(u func()) {
		if v.journal != nil {
			*v.journal = append(*v.journal, u)
		}
	})
}

func (v *memView) read(fn func()) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	fn()
}

func paginate[T any](items []T, page Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func sortNewestFirst[T any](items []T, created func(T) time.Time, id func(T) uuid.UUID) {
	sort.Slice(items, func(i, j int) bool {
		ci, cj := created(items[i]), created(items[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return id(items[i]).String() < id(items[j]).String()
	})
}

// Streams

type memStreams struct{ v *memView }

func (r memStreams) Create(ctx context.Context, stream *models.Stream) error {
	stream.EnsureID()
	stream.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		if _, exists := r.v.m.streams[stream.ID]; exists {
			return apperrors.State("stream %s already exists", stream.ID)
		}
		r.v.m.streams[stream.ID] = stream.Clone()
		id := stream.ID
		undo(func() { delete(r.v.m.streams, id) })
		return nil
	})
}

func (r memStreams) Get(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	var out *models.Stream
	r.v.read(func() {
		if s, ok := r.v.m.streams[id]; ok {
			out = s.Clone()
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("stream %s not found", id)
	}
	return out, nil
}

func (r memStreams) Update(ctx context.Context, stream *models.Stream) error {
	stream.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		prev, ok := r.v.m.streams[stream.ID]
		if !ok {
			return apperrors.NotFound("stream %s not found", stream.ID)
		}
		r.v.m.streams[stream.ID] = stream.Clone()
		undo(func() { r.v.m.streams[prev.ID] = prev })
		return nil
	})
}

func (r memStreams) List(ctx context.Context, filter StreamFilter, page Page) ([]*models.Stream, int64, error) {
	var items []*models.Stream
	r.v.read(func() {
		for _, s := range r.v.m.streams {
			if filter.PartyID != nil && !s.IsParty(*filter.PartyID) {
				continue
			}
			items = append(items, s.Clone())
		}
	})
	sortNewestFirst(items, func(s *models.Stream) time.Time { return s.CreatedAt }, func(s *models.Stream) uuid.UUID { return s.ID })
	return paginate(items, page), int64(len(items)), nil
}

func (r memStreams) ListReleasable(ctx context.Context, after uuid.UUID, limit int) ([]*models.Stream, error) {
	var items []*models.Stream
	cursor := after.String()
	r.v.read(func() {
		for _, s := range r.v.m.streams {
			if !s.Active || s.Finalized || s.Disputed {
				continue
			}
			if after != uuid.Nil && strings.Compare(s.ID.String(), cursor) <= 0 {
				continue
			}
			items = append(items, s.Clone())
		}
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ID.String() < items[j].ID.String() })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r memStreams) CreateSettlement(ctx context.Context, settlement *models.Settlement) error {
	settlement.EnsureID()
	settlement.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		if _, exists := r.v.m.settlements[settlement.StreamID]; exists {
			return apperrors.State("stream %s already settled", settlement.StreamID)
		}
		c := *settlement
		r.v.m.settlements[settlement.StreamID] = &c
		streamID := settlement.StreamID
		undo(func() { delete(r.v.m.settlements, streamID) })
		return nil
	})
}

func (r memStreams) GetSettlement(ctx context.Context, streamID uuid.UUID) (*models.Settlement, error) {
	var out *models.Settlement
	r.v.read(func() {
		if s, ok := r.v.m.settlements[streamID]; ok {
			c := *s
			out = &c
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("settlement for stream %s not found", streamID)
	}
	return out, nil
}

func (r memStreams) UpdateSettlement(ctx context.Context, settlement *models.Settlement) error {
	settlement.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		prev, ok := r.v.m.settlements[settlement.StreamID]
		if !ok {
			return apperrors.NotFound("settlement for stream %s not found", settlement.StreamID)
		}
		c := *settlement
		r.v.m.settlements[settlement.StreamID] = &c
		undo(func() { r.v.m.settlements[prev.StreamID] = prev })
		return nil
	})
}

// Listings

type memListings struct{ v *memView }

func (r memListings) Create(ctx context.Context, listing *models.Listing) error {
	listing.EnsureID()
	listing.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		r.v.m.listings[listing.ID] = listing.Clone()
		id := listing.ID
		undo(func() { delete(r.v.m.listings, id) })
		return nil
	})
}

func (r memListings) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var out *models.Listing
	r.v.read(func() {
		if l, ok := r.v.m.listings[id]; ok {
			out = l.Clone()
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("listing %s not found", id)
	}
	return out, nil
}

func (r memListings) Update(ctx context.Context, listing *models.Listing) error {
	listing.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		prev, ok := r.v.m.listings[listing.ID]
		if !ok {
			return apperrors.NotFound("listing %s not found", listing.ID)
		}
		r.v.m.listings[listing.ID] = listing.Clone()
		undo(func() { r.v.m.listings[prev.ID] = prev })
		return nil
	})
}

func (r memListings) List(ctx context.Context, filter ListingFilter, page Page) ([]*models.Listing, int64, error) {
	var items []*models.Listing
	r.v.read(func() {
		for _, l := range r.v.m.listings {
			if filter.HolderID != nil && l.HolderID != *filter.HolderID {
				continue
			}
			if filter.AssetID != "" && l.AssetID != filter.AssetID {
				continue
			}
			if filter.ActiveOnly && !l.Active {
				continue
			}
			items = append(items, l.Clone())
		}
	})
	sortNewestFirst(items, func(l *models.Listing) time.Time { return l.CreatedAt }, func(l *models.Listing) uuid.UUID { return l.ID })
	return paginate(items, page), int64(len(items)), nil
}

// Rentals

type memRentals struct{ v *memView }

func (r memRentals) Create(ctx context.Context, rental *models.Rental) error {
	rental.EnsureID()
	rental.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		r.v.m.rentals[rental.ID] = rental.Clone()
		id := rental.ID
		undo(func() { delete(r.v.m.rentals, id) })
		return nil
	})
}

func (r memRentals) Get(ctx context.Context, id uuid.UUID) (*models.Rental, error) {
	var out *models.Rental
	r.v.read(func() {
		if rental, ok := r.v.m.rentals[id]; ok {
			out = rental.Clone()
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("rental %s not found", id)
	}
	return out, nil
}

func (r memRentals) Update(ctx context.Context, rental *models.Rental) error {
	rental.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		prev, ok := r.v.m.rentals[rental.ID]
		if !ok {
			return apperrors.NotFound("rental %s not found", rental.ID)
		}
		r.v.m.rentals[rental.ID] = rental.Clone()
		undo(func() { r.v.m.rentals[prev.ID] = prev })
		return nil
	})
}

func (r memRentals) List(ctx context.Context, filter RentalFilter, page Page) ([]*models.Rental, int64, error) {
	var items []*models.Rental
	r.v.read(func() {
		for _, rental := range r.v.m.rentals {
			if filter.PartyID != nil && !rental.IsParty(*filter.PartyID) {
				continue
			}
			if filter.Status != "" && rental.Status != filter.Status {
				continue
			}
			items = append(items, rental.Clone())
		}
	})
	sortNewestFirst(items, func(r *models.Rental) time.Time { return r.CreatedAt }, func(r *models.Rental) uuid.UUID { return r.ID })
	return paginate(items, page), int64(len(items)), nil
}

func (r memRentals) AppendEvent(ctx context.Context, event *models.RentalEvent) error {
	event.EnsureID()
	event.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		rentalID := event.RentalID
		prevLen := len(r.v.m.events[rentalID])
		r.v.m.events[rentalID] = append(r.v.m.events[rentalID], *event)
		undo(func() { r.v.m.events[rentalID] = r.v.m.events[rentalID][:prevLen] })
		return nil
	})
}

func (r memRentals) Events(ctx context.Context, rentalID uuid.UUID, page Page) ([]models.RentalEvent, int64, error) {
	var items []models.RentalEvent
	r.v.read(func() {
		items = append(items, r.v.m.events[rentalID]...)
	})
	return paginate(items, page), int64(len(items)), nil
}

// Disputes

type memDisputes struct{ v *memView }

func (r memDisputes) Create(ctx context.Context, dispute *models.Dispute) error {
	dispute.EnsureID()
	dispute.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		r.v.m.disputes[dispute.ID] = dispute.Clone()
		id := dispute.ID
		undo(func() { delete(r.v.m.disputes, id) })
		return nil
	})
}

func (r memDisputes) Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var out *models.Dispute
	r.v.read(func() {
		if d, ok := r.v.m.disputes[id]; ok {
			out = d.Clone()
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("dispute %s not found", id)
	}
	return out, nil
}

func (r memDisputes) Update(ctx context.Context, dispute *models.Dispute) error {
	dispute.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		prev, ok := r.v.m.disputes[dispute.ID]
		if !ok {
			return apperrors.NotFound("dispute %s not found", dispute.ID)
		}
		r.v.m.disputes[dispute.ID] = dispute.Clone()
		undo(func() { r.v.m.disputes[prev.ID] = prev })
		return nil
	})
}

func (r memDisputes) FindOpenByStream(ctx context.Context, streamID uuid.UUID) (*models.Dispute, error) {
	var out *models.Dispute
	r.v.read(func() {
		for _, d := range r.v.m.disputes {
			if d.StreamID == streamID && !d.Resolved {
				out = d.Clone()
				return
			}
		}
	})
	return out, nil
}

func (r memDisputes) ListOverdue(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*models.Dispute, error) {
	var items []*models.Dispute
	cursor := after.String()
	r.v.read(func() {
		for _, d := range r.v.m.disputes {
			if d.Resolved || d.EscalatedAt != nil || !d.Deadline.Before(now) {
				continue
			}
			if after != uuid.Nil && d.ID.String() <= cursor {
				continue
			}
			items = append(items, d.Clone())
		}
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ID.String() < items[j].ID.String() })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Ledger

type memLedger struct{ v *memView }

func (r memLedger) Balance(ctx context.Context, account string) (int64, error) {
	var bal int64
	r.v.read(func() { bal = r.v.m.balances[account] })
	return bal, nil
}

func (r memLedger) Transfer(ctx context.Context, from, to string, amount int64, kind models.LedgerEntryKind, reference string) error {
	if amount < 0 {
		return apperrors.Validation("transfer amount must not be negative")
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return apperrors.Validation("cannot transfer to the same account")
	}

	now := time.Now().UTC()
	return r.v.write(func(undo func(func())) error {
		m := r.v.m
		fromBal, toBal := m.balances[from], m.balances[to]
		if !models.IsExternalAccount(from) && fromBal < amount {
			return apperrors.InsufficientFunds("account %s holds %d, needs %d", from, fromBal, amount)
		}

		m.balances[from] = fromBal - amount
		m.balances[to] = toBal + amount

		debit := models.LedgerEntry{Account: from, Counterparty: to, Delta: -amount, BalanceAfter: fromBal - amount, Kind: kind, Reference: reference}
		credit := models.LedgerEntry{Account: to, Counterparty: from, Delta: amount, BalanceAfter: toBal + amount, Kind: kind, Reference: reference}
		debit.EnsureID()
		debit.Touch(now)
		credit.EnsureID()
		credit.Touch(now)

		prevLen := len(m.entries)
		prevFrom, prevTo := len(m.byAccount[from]), len(m.byAccount[to])
		m.entries = append(m.entries, debit, credit)
		m.byAccount[from] = append(m.byAccount[from], prevLen)
		m.byAccount[to] = append(m.byAccount[to], prevLen+1)
		if reference != "" {
			m.references[reference]++
		}

		undo(func() {
			m.balances[from] = fromBal
			m.balances[to] = toBal
			m.entries = m.entries[:prevLen]
			m.byAccount[from] = m.byAccount[from][:prevFrom]
			m.byAccount[to] = m.byAccount[to][:prevTo]
			if reference != "" {
				m.references[reference]--
				if m.references[reference] == 0 {
					delete(m.references, reference)
				}
			}
		})
		return nil
	})
}

// Entries pages through the account's index newest first, touching only the
// entries on the requested page.
func (r memLedger) Entries(ctx context.Context, account string, page Page) ([]models.LedgerEntry, int64, error) {
	page = page.Normalize()
	items := []models.LedgerEntry{}
	var total int
	r.v.read(func() {
		positions := r.v.m.byAccount[account]
		total = len(positions)
		for k := page.Offset(); k < total && len(items) < page.Limit; k++ {
			items = append(items, r.v.m.entries[positions[total-1-k]])
		}
	})
	return items, int64(total), nil
}

func (r memLedger) HasReference(ctx context.Context, reference string) (bool, error) {
	var found bool
	r.v.read(func() { found = r.v.m.references[reference] > 0 })
	return found, nil
}

// Assets

type memAssets struct{ v *memView }

func (r memAssets) CreateAsset(ctx context.Context, asset *models.AssetRecord) error {
	asset.EnsureID()
	asset.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		if _, exists := r.v.m.assets[asset.AssetID]; exists {
			return apperrors.State("asset %s is already registered", asset.AssetID)
		}
		c := *asset
		r.v.m.assets[asset.AssetID] = &c
		assetID := asset.AssetID
		undo(func() { delete(r.v.m.assets, assetID) })
		return nil
	})
}

func (r memAssets) GetAsset(ctx context.Context, assetID string) (*models.AssetRecord, error) {
	var out *models.AssetRecord
	r.v.read(func() {
		if a, ok := r.v.m.assets[assetID]; ok {
			c := *a
			out = &c
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("asset %s not found", assetID)
	}
	return out, nil
}

func (r memAssets) CreateGrant(ctx context.Context, grant *models.AccessGrant) error {
	grant.EnsureID()
	grant.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		c := *grant
		r.v.m.grants[grant.ID] = &c
		id := grant.ID
		undo(func() { delete(r.v.m.grants, id) })
		return nil
	})
}

func (r memAssets) ActiveGrant(ctx context.Context, assetID string) (*models.AccessGrant, error) {
	var out *models.AccessGrant
	r.v.read(func() {
		for _, g := range r.v.m.grants {
			if g.AssetID != assetID || g.Revoked {
				continue
			}
			if out == nil || g.CreatedAt.After(out.CreatedAt) {
				c := *g
				out = &c
			}
		}
	})
	return out, nil
}

func (r memAssets) UpdateGrant(ctx context.Context, grant *models.AccessGrant) error {
	grant.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		prev, ok := r.v.m.grants[grant.ID]
		if !ok {
			return apperrors.NotFound("access grant %s not found", grant.ID)
		}
		c := *grant
		r.v.m.grants[grant.ID] = &c
		undo(func() { r.v.m.grants[prev.ID] = prev })
		return nil
	})
}

// Reputation

type memReputation struct{ v *memView }

func (r memReputation) GetProfile(ctx context.Context, userID uuid.UUID) (*models.ReputationProfile, error) {
	var out *models.ReputationProfile
	r.v.read(func() {
		if p, ok := r.v.m.profiles[userID]; ok {
			c := *p
			out = &c
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("reputation profile for %s not found", userID)
	}
	return out, nil
}

func (r memReputation) SaveProfile(ctx context.Context, profile *models.ReputationProfile) error {
	profile.UpdatedAt = time.Now().UTC()
	return r.v.write(func(undo func(func())) error {
		prev, existed := r.v.m.profiles[profile.UserID]
		c := *profile
		r.v.m.profiles[profile.UserID] = &c
		userID := profile.UserID
		undo(func() {
			if existed {
				r.v.m.profiles[userID] = prev
			} else {
				delete(r.v.m.profiles, userID)
			}
		})
		return nil
	})
}

// Users

type memUsers struct{ v *memView }

func (r memUsers) Create(ctx context.Context, user *models.User) error {
	user.EnsureID()
	user.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		for _, u := range r.v.m.users {
			if strings.EqualFold(u.Email, user.Email) || u.Username == user.Username {
				return apperrors.State("user already exists")
			}
		}
		c := *user
		r.v.m.users[user.ID] = &c
		id := user.ID
		undo(func() { delete(r.v.m.users, id) })
		return nil
	})
}

func (r memUsers) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var out *models.User
	r.v.read(func() {
		if u, ok := r.v.m.users[id]; ok {
			c := *u
			out = &c
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("user %s not found", id)
	}
	return out, nil
}

func (r memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var out *models.User
	r.v.read(func() {
		for _, u := range r.v.m.users {
			if strings.EqualFold(u.Email, email) {
				c := *u
				out = &c
				return
			}
		}
	})
	if out == nil {
		return nil, apperrors.NotFound("user not found")
	}
	return out, nil
}

func (r memUsers) Exists(ctx context.Context, email, username string) (bool, error) {
	var found bool
	r.v.read(func() {
		for _, u := range r.v.m.users {
			if strings.EqualFold(u.Email, email) || u.Username == username {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (r memUsers) Update(ctx context.Context, user *models.User) error {
	user.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		prev, ok := r.v.m.users[user.ID]
		if !ok {
			return apperrors.NotFound("user %s not found", user.ID)
		}
		c := *user
		r.v.m.users[user.ID] = &c
		undo(func() { r.v.m.users[prev.ID] = prev })
		return nil
	})
}

// Admin

type memAdmin struct{ v *memView }

func (r memAdmin) CreateNotification(ctx context.Context, notification *models.AdminNotification) error {
	notification.EnsureID()
	notification.Touch(time.Now().UTC())
	if notification.Status == "" {
		notification.Status = "unread"
	}
	return r.v.write(func(undo func(func())) error {
		prevLen := len(r.v.m.notifications)
		r.v.m.notifications = append(r.v.m.notifications, *notification)
		undo(func() { r.v.m.notifications = r.v.m.notifications[:prevLen] })
		return nil
	})
}

func (r memAdmin) ListNotifications(ctx context.Context, page Page) ([]models.AdminNotification, int64, error) {
	var items []models.AdminNotification
	r.v.read(func() {
		for i := len(r.v.m.notifications) - 1; i >= 0; i-- {
			items = append(items, r.v.m.notifications[i])
		}
	})
	return paginate(items, page), int64(len(items)), nil
}

func (r memAdmin) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.EnsureID()
	log.Touch(time.Now().UTC())
	return r.v.write(func(undo func(func())) error {
		prevLen := len(r.v.m.auditLogs)
		r.v.m.auditLogs = append(r.v.m.auditLogs, *log)
		undo(func() { r.v.m.auditLogs = r.v.m.auditLogs[:prevLen] })
		return nil
	})
}
