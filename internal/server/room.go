package server

import (
	"log"
	"sync"
	"time"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	deleted bool
	done    chan bool
}

// Room is a loaded topic: the set of connected viewers for one chat room.
// It carries no message state of its own; it only relays events.
type Room struct {
	id         int
	externalId string
	cs         *ChatServer
	joinChan   chan *ClientMessage
	leaveChan  chan *ClientMessage
	eventChan  chan *ServerMessage
	clients    map[*Client]struct{}
	userMap    map[int]map[*Client]struct{}
	clientLock sync.RWMutex
	log        *log.Logger
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	// exit is used to signal the room to exit
	exit chan exitReq
	done chan struct{}
}

func newRoom(cs *ChatServer, id int, externalId string) *Room {
	return &Room{
		id:         id,
		externalId: externalId,
		cs:         cs,
		joinChan:   make(chan *ClientMessage, 256),
		leaveChan:  make(chan *ClientMessage, 256),
		eventChan:  make(chan *ServerMessage, 256),
		clients:    make(map[*Client]struct{}),
		userMap:    make(map[int]map[*Client]struct{}),
		log:        cs.log,
		exit:       make(chan exitReq),
		done:       make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.eventChan:
			r.broadcast(msg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		// retry on the next timeout
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
		r.cs.removeSubscriber(r.externalId)
	}
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- true
	}
	close(r.done)
}

// handleJoin attaches a viewer to the room topic. Only active participants
// may subscribe.
func (r *Room) handleJoin(join *ClientMessage) {
	// stop the kill timer since we have a new client
	r.killTimer.Stop()

	c := join.client
	participant, err := r.cs.db.GetParticipant(r.id, c.user.Id)
	if err != nil {
		r.log.Printf("GetParticipant for user %d in room %q: %v", c.user.Id, r.externalId, err)
		c.queueMessage(ErrNotParticipant(join.Id))
		r.resetTimerIfEmpty()
		return
	}
	if !participant.IsActive {
		c.queueMessage(ErrNotParticipant(join.Id))
		r.resetTimerIfEmpty()
		return
	}

	r.addClient(c)
	r.cs.addSubscriber(r.externalId)

	c.queueMessage(NoErrOK(join.Id, map[string]any{
		"room_id": r.externalId,
	}))
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	r.removeClient(leaveMsg.client)

	if leaveMsg.GetUserId() != 0 {
		leaveMsg.client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		r.log.Printf("client %q not found in room %q", c.user.Username, r.externalId)
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)
	r.cs.removeSubscriber(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	r.log.Printf("removed client %q from room %q", c.user.Username, r.externalId)

	// if the client is the last one in the room, start the kill timer
	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) resetTimerIfEmpty() {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()
	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}

func (m *ClientMessage) GetUserId() int {
	if m == nil {
		return 0
	}
	return m.UserId
}
