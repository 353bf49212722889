package view

import (
	"log"
	"time"

	"github.com/abroadhq/chat-server/internal/types"
)

// MessageLister is the poll source: the full recent-message snapshot for a
// room, as served by the list endpoint.
type MessageLister interface {
	ListMessages(roomId string) ([]types.Message, error)
}

// Poller periodically merges a fresh snapshot into a room view. It is the
// safety net under the push paths: anything the broadcast or change feed
// dropped shows up within one poll interval.
type Poller struct {
	log      *log.Logger
	lister   MessageLister
	view     *RoomView
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewPoller(logger *log.Logger, lister MessageLister, v *RoomView, interval time.Duration) *Poller {
	return &Poller{
		log:      logger,
		lister:   lister,
		view:     v,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *Poller) Run() {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		close(p.done)
	}()

	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-p.stop:
			return
		}
	}
}

func (p *Poller) poll() {
	msgs, err := p.lister.ListMessages(p.view.roomId)
	if err != nil {
		// transient; the next tick retries
		p.log.Printf("poll room %q: %v", p.view.roomId, err)
		return
	}

	p.view.ApplyPoll(msgs)
}

func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}
