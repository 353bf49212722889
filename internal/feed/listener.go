package feed

import (
	"encoding/json"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/abroadhq/chat-server/internal/stats"
	"github.com/abroadhq/chat-server/internal/types"
)

const (
	channelName = "message_events"

	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Sink receives decoded change-feed events. The hub implements it.
type Sink interface {
	PublishFeed(ev types.FeedEvent)
}

// notificationListener is the part of pq.Listener the feed consumes,
// extracted so tests can drive notifications in-process.
type notificationListener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// Listener subscribes to row-level insert/update/delete events on the
// messages table, emitted by a database trigger. It is one of the delivery
// paths feeding open room views and runs independently of the application
// broadcast: events are produced by the database itself, so they arrive even
// when the in-process publish was never attempted.
type Listener struct {
	log   *log.Logger
	sink  Sink
	stats stats.StatsProvider
	pql   notificationListener
	stop  chan struct{}
	done  chan struct{}
}

func NewListener(logger *log.Logger, dsn string, sink Sink, sp stats.StatsProvider) (*Listener, error) {
	pql := pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Println("feed listener event:", err)
		}
	})

	return newListener(logger, pql, sink, sp)
}

func newListener(logger *log.Logger, pql notificationListener, sink Sink, sp stats.StatsProvider) (*Listener, error) {
	if err := pql.Listen(channelName); err != nil {
		pql.Close()
		return nil, err
	}

	sp.RegisterMetric("FeedEventsReceived")
	sp.RegisterMetric("FeedEventsInvalid")

	return &Listener{
		log:   logger,
		sink:  sink,
		stats: sp,
		pql:   pql,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}, nil
}

func (l *Listener) Run() {
	for {
		select {
		case n := <-l.pql.NotificationChannel():
			l.handle(n)
		case <-time.After(pingInterval):
			// keep the connection alive; a failed ping triggers the
			// listener's own reconnect
			go func() {
				if err := l.pql.Ping(); err != nil {
					l.log.Println("feed listener ping:", err)
				}
			}()
		case <-l.stop:
			close(l.done)
			return
		}
	}
}

func (l *Listener) handle(n *pq.Notification) {
	if n == nil {
		// nil marks a re-established connection; events may have been
		// missed, polling covers the gap
		l.log.Println("feed listener reconnected")
		return
	}

	var ev types.FeedEvent
	if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
		l.log.Printf("feed listener: decode payload %q: %v", n.Extra, err)
		l.stats.Incr("FeedEventsInvalid")
		return
	}

	switch ev.Op {
	case types.FeedOpInsert, types.FeedOpUpdate, types.FeedOpDelete:
	default:
		l.log.Printf("feed listener: unknown op %q", ev.Op)
		l.stats.Incr("FeedEventsInvalid")
		return
	}

	if ev.MessageId == "" || ev.RoomId == "" {
		l.log.Printf("feed listener: incomplete event %q", n.Extra)
		l.stats.Incr("FeedEventsInvalid")
		return
	}

	l.stats.Incr("FeedEventsReceived")
	l.sink.PublishFeed(ev)
}

func (l *Listener) Shutdown() error {
	close(l.stop)
	<-l.done
	return l.pql.Close()
}
