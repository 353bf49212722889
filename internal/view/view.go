package view

import (
	"log"
	"sort"
	"sync"

	"github.com/abroadhq/chat-server/internal/types"
)

const (
	PendingStateSending = "SENDING"
	PendingStateFailed  = "FAILED"
)

// MessageFetcher resolves a message id to its full denormalized form. Change
// feed insert events carry only the id, so applying one needs a fetch.
type MessageFetcher interface {
	GetMessage(messageId string) (types.Message, error)
}

// PendingMessage is an optimistic local message that has not been confirmed
// by the server yet. It is keyed by a client-generated local key, not a
// message id, and rendered after all confirmed messages.
type PendingMessage struct {
	LocalKey string
	State    string
	Message  types.Message
}

// RoomView is the reconciled client-side state of one room's messages. Four
// sources converge on it: optimistic local sends, the websocket broadcast,
// the database change feed, and the polling fallback. Identity is the server
// message id, so applying the same message from any number of sources yields
// one entry.
type RoomView struct {
	roomId  string
	log     *log.Logger
	ledger  *Ledger
	fetcher MessageFetcher

	mu      sync.Mutex
	byId    map[string]*types.Message
	pending []*PendingMessage
	// deleted remembers ids removed from the view so a stale poll snapshot
	// cannot resurrect them
	deleted map[string]struct{}
}

func NewRoomView(roomId string, logger *log.Logger, ledger *Ledger, fetcher MessageFetcher) *RoomView {
	return &RoomView{
		roomId:  roomId,
		log:     logger,
		ledger:  ledger,
		fetcher: fetcher,
		byId:    make(map[string]*types.Message),
		deleted: make(map[string]struct{}),
	}
}

// AddPending registers an optimistic local message under a client-generated
// key. It renders immediately, before the server has confirmed anything.
func (v *RoomView) AddPending(localKey string, msg types.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.pending = append(v.pending, &PendingMessage{
		LocalKey: localKey,
		State:    PendingStateSending,
		Message:  msg,
	})
}

// ConfirmPending replaces an optimistic message with its confirmed form. The
// confirmed id is recorded as owned so the broadcast echo of the same send is
// recognized. If the echo already landed, the pending entry is simply
// dropped; the confirmed message is in the view once either way.
func (v *RoomView) ConfirmPending(localKey string, msg types.Message) {
	v.ledger.MarkOwned(msg.Id)

	v.mu.Lock()
	defer v.mu.Unlock()

	v.dropPendingLocked(localKey)
	if _, ok := v.byId[msg.Id]; ok {
		return
	}
	m := msg
	v.byId[msg.Id] = &m
}

// FailPending marks an optimistic message as failed. It stays visible so the
// user can retry or discard it.
func (v *RoomView) FailPending(localKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, p := range v.pending {
		if p.LocalKey == localKey {
			p.State = PendingStateFailed
			return
		}
	}
}

func (v *RoomView) DropPending(localKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.dropPendingLocked(localKey)
}

func (v *RoomView) dropPendingLocked(localKey string) {
	for i, p := range v.pending {
		if p.LocalKey == localKey {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

// ApplyBroadcast applies a full message received over the websocket. Own
// echoes are absorbed by the id check; the pending entry for the same send is
// cleared by ConfirmPending when the REST response lands.
func (v *RoomView) ApplyBroadcast(msg types.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, gone := v.deleted[msg.Id]; gone {
		return
	}

	m := msg
	v.byId[msg.Id] = &m
}

// ApplyBroadcastDelete removes a message announced deleted over the socket.
func (v *RoomView) ApplyBroadcastDelete(messageId string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.removeLocked(messageId)
}

// ApplyFeed applies a database change-feed event. Insert events are skinny
// and require a fetch; update and delete events are self-contained.
func (v *RoomView) ApplyFeed(ev types.FeedEvent) {
	switch ev.Op {
	case types.FeedOpInsert:
		v.applyFeedInsert(ev)
	case types.FeedOpUpdate:
		v.applyFeedUpdate(ev)
	case types.FeedOpDelete:
		v.ApplyBroadcastDelete(ev.MessageId)
	default:
		v.log.Printf("ignoring feed event with op %q", ev.Op)
	}
}

func (v *RoomView) applyFeedInsert(ev types.FeedEvent) {
	v.mu.Lock()
	_, present := v.byId[ev.MessageId]
	_, gone := v.deleted[ev.MessageId]
	v.mu.Unlock()

	// skip the fetch when the message already arrived over another path,
	// including the echo of an own send
	if present || gone || v.ledger.IsOwned(ev.MessageId) {
		return
	}

	msg, err := v.fetcher.GetMessage(ev.MessageId)
	if err != nil {
		// polling will pick the message up
		v.log.Printf("fetch message %q from feed event: %v", ev.MessageId, err)
		return
	}

	v.ApplyBroadcast(msg)
}

func (v *RoomView) applyFeedUpdate(ev types.FeedEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	msg, ok := v.byId[ev.MessageId]
	if !ok {
		return
	}

	if ev.Content != nil {
		msg.Content = *ev.Content
	}
	if ev.IsEdited != nil {
		msg.IsEdited = *ev.IsEdited
	}
	if ev.UpdatedAt != nil {
		msg.UpdatedAt = *ev.UpdatedAt
	}
}

// ApplyPoll merges a poll snapshot into the view. Merging is id-keyed and
// additive: a snapshot refreshes what it contains but never removes a
// displayed message, since a snapshot taken just before a broadcast arrived
// would otherwise flicker new messages away.
func (v *RoomView) ApplyPoll(msgs []types.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, msg := range msgs {
		if _, gone := v.deleted[msg.Id]; gone {
			continue
		}
		m := msg
		v.byId[msg.Id] = &m
	}
}

// Messages returns the render order: confirmed messages sorted by creation
// time with id as the tiebreak, then pending messages in submission order.
func (v *RoomView) Messages() []types.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]types.Message, 0, len(v.byId)+len(v.pending))
	for _, msg := range v.byId {
		out = append(out, *msg)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Id < out[j].Id
	})

	for _, p := range v.pending {
		out = append(out, p.Message)
	}

	return out
}

// Pending returns the optimistic entries, in submission order.
func (v *RoomView) Pending() []PendingMessage {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]PendingMessage, 0, len(v.pending))
	for _, p := range v.pending {
		out = append(out, *p)
	}
	return out
}

func (v *RoomView) Contains(messageId string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.byId[messageId]
	return ok
}

func (v *RoomView) removeLocked(messageId string) {
	delete(v.byId, messageId)
	v.deleted[messageId] = struct{}{}
}
