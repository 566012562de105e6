// Package store implements ContractStore: the single-writer, many-reader
// in-memory store of contract versions, with a single-active-version
// invariant per canonical key and an ordered change-feed for subscribers
// (§4.7, §9 Design Notes).
//
// Grounded on the teacher's pkg/gateway/store.go package-level
// `contractStore map[string]string` guarded by `sync.RWMutex`, generalized
// from a single flat string-value map into a versioned, indexed store
// whose mutations (supersede-on-approve) must land as one atomic
// transition rather than two independent writes.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/sirupsen/logrus"
)

// versionKey identifies one specific contract version in the store.
type versionKey struct {
	id      string
	version int
}

// Store holds every contract version ever ingested, indexed by id+version,
// plus a canonical-key index of the single currently-approved version (the
// single-active-version invariant from §3).
//
// Mutations take the write lock and perform their full transition — e.g.
// marking the previous approved version superseded and the new version
// approved — inside one critical section, so no reader can observe a
// moment with zero or two approved versions for the same canonical key.
type Store struct {
	mu          sync.RWMutex
	versions    map[versionKey]contracts.Contract
	latestByID  map[string]int // id -> highest version number seen
	approvedIdx map[contracts.CanonicalKey]versionKey
	canonicalID map[contracts.CanonicalKey]string // canonical key -> contract id, regardless of status
	remoteIdx   map[string]string                 // "driveID/itemID" -> contract id
	hashIdx     map[string]string                 // file_hash -> contract id
	log         *logrus.Logger
	feed        *ChangeFeed
}

// New builds an empty Store. feed may be nil, in which case mutations are
// not published anywhere (used in tests that only exercise the index
// invariant).
func New(log *logrus.Logger, feed *ChangeFeed) *Store {
	return &Store{
		versions:    map[versionKey]contracts.Contract{},
		latestByID:  map[string]int{},
		approvedIdx: map[contracts.CanonicalKey]versionKey{},
		canonicalID: map[contracts.CanonicalKey]string{},
		remoteIdx:   map[string]string{},
		hashIdx:     map[string]string{},
		log:         log,
		feed:        feed,
	}
}

func remoteKey(driveID, itemID string) string { return driveID + "/" + itemID }

// Put inserts a new contract version. If c.Status is approved, it first
// supersedes whatever version currently holds the canonical-key's approved
// slot, enforcing the single-active-version invariant as one atomic
// transition.
func (s *Store) Put(c contracts.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey{id: c.ID, version: c.Version}
	if _, exists := s.versions[key]; exists {
		return &apperr.InvariantViolated{Msg: fmt.Sprintf("version %d of contract %s already stored", c.Version, c.ID)}
	}

	var superseded *contracts.Contract
	if c.Status == contracts.StatusApproved {
		ck := c.CanonicalKey()
		if prevKey, ok := s.approvedIdx[ck]; ok {
			prev := s.versions[prevKey]
			if prev.ID == c.ID && prev.Version >= c.Version {
				return &apperr.InvariantViolated{Msg: "cannot approve a version older than or equal to the current approved version"}
			}
			prev.Status = contracts.StatusSuperseded
			s.versions[prevKey] = prev
			superseded = &prev
		}
		s.approvedIdx[ck] = key
	}

	s.versions[key] = c
	if c.Version > s.latestByID[c.ID] {
		s.latestByID[c.ID] = c.Version
	}
	s.canonicalID[c.CanonicalKey()] = c.ID
	if c.RemoteItemID != "" {
		s.remoteIdx[remoteKey(c.RemoteDriveID, c.RemoteItemID)] = c.ID
	}
	if c.FileHash != "" {
		s.hashIdx[c.FileHash] = c.ID
	}

	s.log.WithFields(logrus.Fields{
		"contract_id": c.ID, "version": c.Version, "status": c.Status,
	}).Info("contract version stored")

	if s.feed != nil {
		s.feed.Publish(Event{
			Kind:         EventVersionStored,
			ContractID:   c.ID,
			Version:      c.Version,
			ProductGroup: c.ProductGroup,
			Status:       c.Status,
			At:           time.Now(),
		})
		if superseded != nil {
			s.feed.Publish(Event{
				Kind:         EventSuperseded,
				ContractID:   superseded.ID,
				Version:      superseded.Version,
				ProductGroup: superseded.ProductGroup,
				Status:       contracts.StatusSuperseded,
				At:           time.Now(),
			})
		}
	}

	return nil
}

// Get returns a specific contract version.
func (s *Store) Get(id string, version int) (contracts.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.versions[versionKey{id: id, version: version}]
	return c, ok
}

// Latest returns the highest-numbered version stored for id.
func (s *Store) Latest(id string) (contracts.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.latestByID[id]
	if !ok {
		return contracts.Contract{}, false
	}
	c, ok := s.versions[versionKey{id: id, version: v}]
	return c, ok
}

// Approved returns the currently-approved version for a canonical key, if
// any version is currently approved for it.
func (s *Store) Approved(key contracts.CanonicalKey) (contracts.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vk, ok := s.approvedIdx[key]
	if !ok {
		return contracts.Contract{}, false
	}
	c, ok := s.versions[vk]
	return c, ok
}

// ApprovedInProductGroup returns every currently-approved contract whose
// ProductGroup matches productGroup — the "active set" ConstraintBridge
// projects bounds from.
func (s *Store) ApprovedInProductGroup(productGroup string) []contracts.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Contract
	for _, vk := range s.approvedIdx {
		c := s.versions[vk]
		if c.ProductGroup == productGroup {
			out = append(out, c)
		}
	}
	return out
}

// LatestInProductGroup returns the latest stored version of every contract
// id whose latest version belongs to productGroup, regardless of review
// status — the Ingestor uses this to build the diff_hashes known-item set
// for a delta scan.
func (s *Store) LatestInProductGroup(productGroup string) []contracts.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Contract
	for id, v := range s.latestByID {
		c := s.versions[versionKey{id: id, version: v}]
		if c.ProductGroup == productGroup {
			out = append(out, c)
		}
	}
	return out
}

// ContractIDForCanonicalKey returns the stable contract id already in use
// for a canonical key, regardless of its current review status — the
// Ingestor uses this to decide whether a re-ingested document is a new
// version of an existing contract or the first version of a new one.
func (s *Store) ContractIDForCanonicalKey(key contracts.CanonicalKey) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.canonicalID[key]
	return id, ok
}

// ByRemoteItem returns the latest version of the contract ingested from a
// given remote drive/item pair, if any.
func (s *Store) ByRemoteItem(driveID, itemID string) (contracts.Contract, bool) {
	s.mu.RLock()
	id, ok := s.remoteIdx[remoteKey(driveID, itemID)]
	s.mu.RUnlock()
	if !ok {
		return contracts.Contract{}, false
	}
	return s.Latest(id)
}

// ByFileHash returns the latest version of the contract whose most recent
// ingest carried the given source file hash, if any.
func (s *Store) ByFileHash(hash string) (contracts.Contract, bool) {
	s.mu.RLock()
	id, ok := s.hashIdx[hash]
	s.mu.RUnlock()
	if !ok {
		return contracts.Contract{}, false
	}
	return s.Latest(id)
}

// UpdateVerification patches a version's freshness-check result without
// bumping its version or touching the review state machine (§4.7
// update_verification).
func (s *Store) UpdateVerification(id string, version int, status contracts.VerificationStatus, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey{id: id, version: version}
	c, ok := s.versions[key]
	if !ok {
		return &apperr.InvariantViolated{Msg: fmt.Sprintf("no such version %d of contract %s", version, id)}
	}
	c.VerificationStatus = status
	c.LastVerifiedAt = verifiedAt
	s.versions[key] = c

	if s.feed != nil {
		s.feed.Publish(Event{
			Kind: EventVerificationUpdated, ContractID: id, Version: version,
			ProductGroup: c.ProductGroup, Status: c.Status, At: time.Now(),
		})
	}
	return nil
}

// NextVersion returns the version number a new ingest for contract id
// should use (1 if id has never been seen).
func (s *Store) NextVersion(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestByID[id] + 1
}

// AllVersions returns every stored version of a contract id, oldest first.
func (s *Store) AllVersions(id string) []contracts.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := s.latestByID[id]
	out := make([]contracts.Contract, 0, latest)
	for v := 1; v <= latest; v++ {
		if c, ok := s.versions[versionKey{id: id, version: v}]; ok {
			out = append(out, c)
		}
	}
	return out
}

// UpdateStatus transitions a specific version's review status, enforcing
// the same supersede-on-approve invariant as Put when transitioning into
// approved.
func (s *Store) UpdateStatus(id string, version int, newStatus contracts.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey{id: id, version: version}
	c, ok := s.versions[key]
	if !ok {
		return &apperr.InvariantViolated{Msg: fmt.Sprintf("no such version %d of contract %s", version, id)}
	}

	if newStatus == contracts.StatusApproved {
		ck := c.CanonicalKey()
		if prevKey, ok := s.approvedIdx[ck]; ok && prevKey != key {
			prev := s.versions[prevKey]
			prev.Status = contracts.StatusSuperseded
			s.versions[prevKey] = prev
		}
		s.approvedIdx[ck] = key
	}

	c.Status = newStatus
	s.versions[key] = c

	if s.feed != nil {
		s.feed.Publish(Event{
			Kind: EventStatusChanged, ContractID: id, Version: version,
			ProductGroup: c.ProductGroup, Status: newStatus, At: time.Now(),
		})
	}
	return nil
}
