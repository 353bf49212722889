package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/abroadhq/chat-server/internal/database"
	"github.com/abroadhq/chat-server/internal/stats"
	"github.com/abroadhq/chat-server/internal/types"
)

// subscriberPollInterval is how often a grace-delayed publish rechecks for a
// first subscriber.
const subscriberPollInterval = 25 * time.Millisecond

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

type roomEvent struct {
	roomId string
	msg    *ServerMessage
	// missMetric is incremented when no loaded room can take the event
	missMetric string
}

// ChatServer is the room-topic hub behind the broadcast and change-feed
// delivery paths. It owns the loaded rooms and fans events out to their
// connected viewers. Delivery is best effort by design: the database is the
// source of truth and missed events self-heal via polling.
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	grace          time.Duration
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	registerChan   chan *Client
	deRegisterChan chan *Client
	eventChan      chan *roomEvent
	unloadRoomChan chan unloadRoomRequest
	rooms          map[string]*Room
	subs           map[string]int
	subsLock       sync.RWMutex
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, sp stats.StatsProvider, grace time.Duration) (*ChatServer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	sp.RegisterMetric("ActiveClients")
	sp.RegisterMetric("ActiveRooms")
	sp.RegisterMetric("BroadcastsPublished")
	sp.RegisterMetric("BroadcastsMissed")
	sp.RegisterMetric("FeedEventsForwarded")
	sp.RegisterMetric("FeedEventsDropped")

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          sp,
		grace:          grace,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		eventChan:      make(chan *roomEvent, 512),
		unloadRoomChan: make(chan unloadRoomRequest, 64),
		rooms:          make(map[string]*Room),
		subs:           make(map[string]int),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.registerChan:
			cs.log.Printf("adding connection from %q", client.user.Username)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", client.user.Username)
			cs.removeClient(client)
		case ev := <-cs.eventChan:
			cs.dispatchEvent(ev)
		case req := <-cs.unloadRoomChan:
			if r, ok := cs.rooms[req.roomId]; ok {
				cs.unloadRoom(req.roomId)
				r.exit <- exitReq{deleted: req.deleted}
				<-r.done
			}
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				close(r.exit)
				<-r.done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	if room, ok := cs.rooms[joinMsg.Join.RoomId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.externalId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	dbRoom, err := cs.db.GetRoomByExternalId(joinMsg.Join.RoomId)
	if err != nil {
		joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		return
	}

	room := newRoom(cs, dbRoom.Id, dbRoom.ExternalId)
	cs.rooms[room.externalId] = room
	cs.stats.Incr("ActiveRooms")
	room.joinChan <- joinMsg

	go room.start()
}

func (cs *ChatServer) dispatchEvent(ev *roomEvent) {
	room, ok := cs.rooms[ev.roomId]
	if !ok {
		// nobody is viewing the room; polling will catch the client up
		cs.stats.Incr(ev.missMetric)
		return
	}

	select {
	case room.eventChan <- ev.msg:
	default:
		cs.log.Printf("event channel full on room %q", room.externalId)
		cs.stats.Incr(ev.missMetric)
	}
}

// PublishMessage hands a freshly committed message to the broadcast path.
// It returns immediately; the publish happens on its own goroutine after
// waiting a bounded grace interval for a first subscriber to attach.
func (cs *ChatServer) PublishMessage(roomId string, msg types.Message) {
	m := msg
	sm := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Message: &MessageEvent{
			Op:      MessageOpInsert,
			RoomId:  roomId,
			Message: &m,
		},
	}

	go func() {
		cs.waitForSubscriber(roomId)
		cs.enqueue(roomId, sm, "BroadcastsMissed")
		cs.stats.Incr("BroadcastsPublished")
	}()
}

func (cs *ChatServer) PublishUpdate(roomId string, msg types.Message) {
	m := msg
	cs.enqueue(roomId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Message: &MessageEvent{
			Op:      MessageOpUpdate,
			RoomId:  roomId,
			Message: &m,
		},
	}, "BroadcastsMissed")
}

func (cs *ChatServer) PublishDelete(roomId, messageId string) {
	cs.enqueue(roomId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Message: &MessageEvent{
			Op:        MessageOpDelete,
			RoomId:    roomId,
			MessageId: messageId,
		},
	}, "BroadcastsMissed")
}

// PublishFeed forwards a database change-feed event to the room's viewers.
func (cs *ChatServer) PublishFeed(ev types.FeedEvent) {
	e := ev
	cs.enqueue(ev.RoomId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Feed:        &e,
	}, "FeedEventsDropped")
	cs.stats.Incr("FeedEventsForwarded")
}

func (cs *ChatServer) enqueue(roomId string, msg *ServerMessage, missMetric string) {
	select {
	case cs.eventChan <- &roomEvent{roomId: roomId, msg: msg, missMetric: missMetric}:
	default:
		cs.log.Printf("event queue full, dropping event for room %q", roomId)
		cs.stats.Incr(missMetric)
	}
}

// waitForSubscriber blocks until the room has at least one subscriber or the
// grace interval elapses. Purely a latency optimization for viewers whose
// subscription is still attaching; correctness never depends on it.
func (cs *ChatServer) waitForSubscriber(roomId string) {
	if cs.grace <= 0 || cs.hasSubscribers(roomId) {
		return
	}

	deadline := time.NewTimer(cs.grace)
	defer deadline.Stop()
	tick := time.NewTicker(subscriberPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if cs.hasSubscribers(roomId) {
				return
			}
		case <-deadline.C:
			return
		}
	}
}

func (cs *ChatServer) hasSubscribers(roomId string) bool {
	cs.subsLock.RLock()
	defer cs.subsLock.RUnlock()
	return cs.subs[roomId] > 0
}

func (cs *ChatServer) addSubscriber(roomId string) {
	cs.subsLock.Lock()
	defer cs.subsLock.Unlock()
	cs.subs[roomId]++
}

func (cs *ChatServer) removeSubscriber(roomId string) {
	cs.subsLock.Lock()
	defer cs.subsLock.Unlock()
	if cs.subs[roomId] > 0 {
		cs.subs[roomId]--
	}
	if cs.subs[roomId] == 0 {
		delete(cs.subs, roomId)
	}
}

// UnloadRoom requests eviction of a loaded room, disconnecting its viewers.
// Used when a room is closed so stale subscriptions do not linger.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string, deleted bool) error {
	select {
	case cs.unloadRoomChan <- unloadRoomRequest{roomId: roomId, deleted: deleted}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.registerChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr("ActiveClients")
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr("ActiveClients")
	}
}

func (cs *ChatServer) unloadRoom(roomId string) {
	if r, ok := cs.rooms[roomId]; ok {
		cs.log.Printf("removing room %q", r.externalId)
		delete(cs.rooms, roomId)
		cs.stats.Decr("ActiveRooms")
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.clientsLock.Lock()
	for c := range cs.clients {
		close(c.stop)
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
