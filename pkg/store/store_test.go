package store

import (
	"io"
	"testing"
	"time"

	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestStore_Put_ApprovingSupersedesPreviousApprovedVersion(t *testing.T) {
	s := New(testLogger(), nil)

	v1 := contracts.Contract{ID: "c1", Version: 1, Counterparty: "Acme LLC", ProductGroup: "ammonia", Status: contracts.StatusApproved}
	require.NoError(t, s.Put(v1))

	approved, ok := s.Approved(v1.CanonicalKey())
	require.True(t, ok)
	assert.Equal(t, 1, approved.Version)

	v2 := contracts.Contract{ID: "c1", Version: 2, Counterparty: "Acme LLC", ProductGroup: "ammonia", Status: contracts.StatusApproved}
	require.NoError(t, s.Put(v2))

	approved, ok = s.Approved(v1.CanonicalKey())
	require.True(t, ok)
	assert.Equal(t, 2, approved.Version, "second approval must supersede the first")

	prev, ok := s.Get("c1", 1)
	require.True(t, ok)
	assert.Equal(t, contracts.StatusSuperseded, prev.Status, "old version must flip to superseded atomically with the new approval")
}

func TestStore_Put_RejectsDuplicateVersion(t *testing.T) {
	s := New(testLogger(), nil)
	c := contracts.Contract{ID: "c1", Version: 1, ProductGroup: "ammonia"}
	require.NoError(t, s.Put(c))
	err := s.Put(c)
	assert.Error(t, err)
}

func TestStore_NeverObservesTwoApprovedVersionsForOneCanonicalKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(testLogger(), nil)
	key := contracts.CanonicalKey{NormalizedCounterparty: "acme", ProductGroup: "ammonia"}

	for v := 1; v <= 5; v++ {
		c := contracts.Contract{ID: "c1", Version: v, Counterparty: "Acme LLC", ProductGroup: "ammonia", Status: contracts.StatusApproved}
		require.NoError(t, s.Put(c))
		approved, ok := s.Approved(key)
		require.True(t, ok)
		assert.Equal(t, v, approved.Version)

		all := s.AllVersions("c1")
		approvedCount := 0
		for _, av := range all {
			if av.Status == contracts.StatusApproved {
				approvedCount++
			}
		}
		assert.Equal(t, 1, approvedCount)
	}
}

func TestStore_ContractIDForCanonicalKey_TracksAcrossVersions(t *testing.T) {
	s := New(testLogger(), nil)
	c := contracts.Contract{ID: "c1", Version: 1, Counterparty: "Acme LLC", ProductGroup: "ammonia", Status: contracts.StatusDraft}
	require.NoError(t, s.Put(c))

	id, ok := s.ContractIDForCanonicalKey(c.CanonicalKey())
	require.True(t, ok)
	assert.Equal(t, "c1", id)
	assert.Equal(t, 2, s.NextVersion("c1"))
}

func TestStore_ByRemoteItemAndByFileHash(t *testing.T) {
	s := New(testLogger(), nil)
	c := contracts.Contract{
		ID: "c1", Version: 1, ProductGroup: "ammonia",
		RemoteDriveID: "drive-1", RemoteItemID: "item-1", FileHash: "hash-1",
	}
	require.NoError(t, s.Put(c))

	byRemote, ok := s.ByRemoteItem("drive-1", "item-1")
	require.True(t, ok)
	assert.Equal(t, "c1", byRemote.ID)

	byHash, ok := s.ByFileHash("hash-1")
	require.True(t, ok)
	assert.Equal(t, "c1", byHash.ID)
}

func TestStore_UpdateVerification_PatchesWithoutVersionBump(t *testing.T) {
	s := New(testLogger(), nil)
	c := contracts.Contract{ID: "c1", Version: 1, ProductGroup: "ammonia"}
	require.NoError(t, s.Put(c))

	now := time.Now()
	require.NoError(t, s.UpdateVerification("c1", 1, contracts.VerificationVerified, now))

	got, ok := s.Get("c1", 1)
	require.True(t, ok)
	assert.Equal(t, contracts.VerificationVerified, got.VerificationStatus)
	assert.WithinDuration(t, now, got.LastVerifiedAt, time.Second)
	assert.Equal(t, 2, s.NextVersion("c1"), "verification patch must not create a new version")
}

func TestChangeFeed_Subscribe_DeliversInOrderWithoutSkipping(t *testing.T) {
	feed := NewChangeFeed(nil, "test", testLogger())
	events, cancel := feed.Subscribe(8)
	defer cancel()

	for i := 1; i <= 5; i++ {
		feed.Publish(Event{Kind: EventVersionStored, ContractID: "c1", Version: i, At: time.Now()})
	}

	for i := 1; i <= 5; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, i, ev.Version)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestChangeFeed_Cancel_StopsDelivery(t *testing.T) {
	feed := NewChangeFeed(nil, "test", testLogger())
	events, cancel := feed.Subscribe(4)
	cancel()

	_, ok := <-events
	assert.False(t, ok, "channel should be closed after cancel")
}
