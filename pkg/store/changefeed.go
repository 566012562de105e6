package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// EventKind is the closed set of change-feed event types.
type EventKind string

const (
	EventVersionStored       EventKind = "version_stored"
	EventSuperseded          EventKind = "superseded"
	EventStatusChanged       EventKind = "status_changed"
	EventVerificationUpdated EventKind = "verification_updated"
)

// Event is one ordered change-feed notification.
type Event struct {
	Kind         EventKind             `json:"kind"`
	ContractID   string                `json:"contract_id"`
	Version      int                   `json:"version"`
	ProductGroup string                `json:"product_group"`
	Status       contracts.ReviewStatus `json:"status"`
	At           time.Time             `json:"at"`
}

// subscriber holds one consumer's ordered, bounded event queue. When the
// queue is full, Publish blocks (back-pressure) rather than dropping — no
// event skipping per §9 Design Notes.
type subscriber struct {
	ch chan Event
}

// ChangeFeed is the ordered, per-subscriber broadcast channel for store
// mutations, published over Redis pub/sub so out-of-process consumers
// (other desk processes) observe the same ordered stream as in-process
// subscribers. Grounded directly on the teacher's
// pkg/gateway/pubsub.go StartPubSubListener/handleContractApproval, which
// subscribes to a single `contract:approved` Redis channel; generalized
// here to every mutation kind and to per-subscriber local fan-out so each
// subscriber gets its own ordered, spooled queue instead of one shared
// channel that a slow consumer could stall for everyone else.
type ChangeFeed struct {
	mu       sync.Mutex
	subs     map[int]*subscriber
	nextID   int
	rdb      *redis.Client
	channel  string
	log      *logrus.Logger
}

// NewChangeFeed builds a ChangeFeed publishing to the given Redis channel
// prefix. rdb may be nil, in which case publication is local-only
// (used by tests and single-process deployments).
func NewChangeFeed(rdb *redis.Client, channelPrefix string, log *logrus.Logger) *ChangeFeed {
	return &ChangeFeed{
		subs:    map[int]*subscriber{},
		rdb:     rdb,
		channel: channelPrefix,
		log:     log,
	}
}

// Subscribe registers a new subscriber with a bounded spool capacity and
// returns a cancel function. The returned channel delivers events in
// publish order with no skipping; once the spool is full, Publish blocks
// the writer rather than dropping an event for this subscriber.
func (f *ChangeFeed) Subscribe(capacity int) (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	sub := &subscriber{ch: make(chan Event, capacity)}
	f.subs[id] = sub

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if s, ok := f.subs[id]; ok {
			close(s.ch)
			delete(f.subs, id)
		}
	}
	return sub.ch, cancel
}

// Publish fans an event out to every local subscriber (blocking on a full
// queue, i.e. back-pressure) and asynchronously mirrors it to Redis for
// out-of-process consumers.
func (f *ChangeFeed) Publish(ev Event) {
	f.mu.Lock()
	subs := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.ch <- ev
	}

	if f.rdb != nil {
		go f.publishRedis(ev)
	}
}

func (f *ChangeFeed) publishRedis(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.log.WithError(err).Warn("change feed event marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	topic := f.channel + ":" + ev.ProductGroup
	if err := f.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		f.log.WithError(err).WithField("topic", topic).Warn("change feed redis publish failed")
	}
}
