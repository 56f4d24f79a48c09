package server

import (
	"context"
	"errors"
	"sync"

	"github.com/npezzotti/tutor-chat/internal/stats"
	"github.com/npezzotti/tutor-chat/internal/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrServerClosed  = errors.New("chat server closed")
	ErrUnknownClient = errors.New("client is not registered")
)

type subscriptionResult struct {
	changed bool
	err     error
}

type subscriptionReq struct {
	client *Client
	roomId int64
	result chan subscriptionResult
}

type publishReq struct {
	roomId int64
	msg    *ServerMessage
	result chan int
}

type stopReq struct {
	done chan struct{}
}

// ChatServer tracks live connections and their room subscriptions. All
// mutations are serialized through the Run loop; the maps are also guarded
// so they can be inspected from other goroutines.
type ChatServer struct {
	log            *logrus.Logger
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.RWMutex
	rooms          map[int64]*Room
	roomsLock      sync.RWMutex
	registerChan   chan *Client
	unregisterChan chan *Client
	joinChan       chan *subscriptionReq
	leaveChan      chan *subscriptionReq
	publishChan    chan *publishReq
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger *logrus.Logger, st stats.StatsProvider) (*ChatServer, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if st == nil {
		return nil, errors.New("stats provider is required")
	}

	st.RegisterMetric(stats.ActiveClients)
	st.RegisterMetric(stats.ActiveRooms)
	st.RegisterMetric(stats.MessagesPublished)
	st.RegisterMetric(stats.DeliveriesDropped)

	return &ChatServer{
		log:            logger,
		stats:          st,
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[int64]*Room),
		registerChan:   make(chan *Client),
		unregisterChan: make(chan *Client),
		joinChan:       make(chan *subscriptionReq),
		leaveChan:      make(chan *subscriptionReq),
		publishChan:    make(chan *publishReq),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.registerChan:
			cs.addClient(client)
		case client := <-cs.unregisterChan:
			cs.removeClient(client)
		case req := <-cs.joinChan:
			changed, err := cs.handleJoin(req.client, req.roomId)
			req.result <- subscriptionResult{changed: changed, err: err}
		case req := <-cs.leaveChan:
			req.result <- subscriptionResult{changed: cs.handleLeave(req.client, req.roomId)}
		case req := <-cs.publishChan:
			req.result <- cs.handlePublish(req.roomId, req.msg)
		case req := <-cs.stop:
			cs.log.Info("shutting down chat server")
			cs.handleStop()
			close(cs.done)
			close(req.done)
			return
		}
	}
}

// RegisterClient makes a new connection known to the server.
func (cs *ChatServer) RegisterClient(c *Client) error {
	select {
	case cs.registerChan <- c:
		return nil
	case <-cs.done:
		return ErrServerClosed
	}
}

// UnregisterClient drops every subscription of c and stops it. It is the
// terminal transition of a connection.
func (cs *ChatServer) UnregisterClient(c *Client) {
	select {
	case cs.unregisterChan <- c:
	case <-cs.done:
	}
}

// Join subscribes c to a room. It reports false when c was already
// subscribed.
func (cs *ChatServer) Join(c *Client, roomId int64) (bool, error) {
	return cs.submitSubscription(cs.joinChan, c, roomId)
}

// Leave unsubscribes c from a room. It reports false when c was not
// subscribed.
func (cs *ChatServer) Leave(c *Client, roomId int64) (bool, error) {
	return cs.submitSubscription(cs.leaveChan, c, roomId)
}

func (cs *ChatServer) submitSubscription(ch chan<- *subscriptionReq, c *Client, roomId int64) (bool, error) {
	req := &subscriptionReq{
		client: c,
		roomId: roomId,
		result: make(chan subscriptionResult, 1),
	}

	select {
	case ch <- req:
	case <-cs.done:
		return false, ErrServerClosed
	}

	res := <-req.result
	return res.changed, res.err
}

// Publish delivers msg to the room's subscribers as of the moment the Run
// loop handles it, and returns how many subscribers it was queued for.
func (cs *ChatServer) Publish(roomId int64, msg types.Message) int {
	req := &publishReq{
		roomId: roomId,
		msg:    NewReceiveMessage(msg),
		result: make(chan int, 1),
	}

	select {
	case cs.publishChan <- req:
	case <-cs.done:
		cs.log.WithField("room_id", roomId).Warn("publish after shutdown")
		return 0
	}

	return <-req.result
}

// Shutdown stops every client and the Run loop.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscriberCount returns the number of connections subscribed to a room.
func (cs *ChatServer) SubscriberCount(roomId int64) int {
	r, ok := cs.getRoom(roomId)
	if !ok {
		return 0
	}
	return r.size()
}

func (cs *ChatServer) NumClients() int {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()
	return len(cs.clients)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		return
	}

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.ActiveClients)
	c.log.Info("client connected")
}

func (cs *ChatServer) hasClient(c *Client) bool {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	_, ok := cs.clients[c]
	return ok
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	_, ok := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	if !ok {
		return
	}

	for _, roomId := range c.roomIds() {
		cs.handleLeave(c, roomId)
	}

	c.stopClient()
	cs.stats.Decr(stats.ActiveClients)
	c.log.Info("client disconnected")
}

func (cs *ChatServer) getRoom(roomId int64) (*Room, bool) {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	r, ok := cs.rooms[roomId]
	return r, ok
}

func (cs *ChatServer) addRoom(r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	cs.rooms[r.id] = r
	cs.stats.Incr(stats.ActiveRooms)
}

func (cs *ChatServer) removeRoom(roomId int64) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if _, ok := cs.rooms[roomId]; ok {
		delete(cs.rooms, roomId)
		cs.stats.Decr(stats.ActiveRooms)
	}
}

func (cs *ChatServer) handleJoin(c *Client, roomId int64) (bool, error) {
	if !cs.hasClient(c) {
		return false, ErrUnknownClient
	}

	r, ok := cs.getRoom(roomId)
	if !ok {
		r = newRoom(roomId, cs.log)
		cs.addRoom(r)
	}

	if !r.addClient(c) {
		return false, nil
	}

	c.addRoom(r)
	c.log.WithField("room_id", roomId).Info("joined room")
	return true, nil
}

func (cs *ChatServer) handleLeave(c *Client, roomId int64) bool {
	r, ok := cs.getRoom(roomId)
	if !ok || !r.removeClient(c) {
		return false
	}

	c.delRoom(roomId)
	c.log.WithField("room_id", roomId).Info("left room")

	if r.size() == 0 {
		cs.removeRoom(roomId)
	}
	return true
}

func (cs *ChatServer) handlePublish(roomId int64, msg *ServerMessage) int {
	r, ok := cs.getRoom(roomId)
	if !ok {
		return 0
	}

	delivered, dropped := r.broadcast(msg)
	cs.stats.Incr(stats.MessagesPublished)
	for range dropped {
		cs.stats.Incr(stats.DeliveriesDropped)
	}

	if dropped > 0 {
		cs.log.WithFields(logrus.Fields{
			"room_id": roomId,
			"dropped": dropped,
		}).Warn("subscriber queues full, message dropped")
	}

	return delivered
}

func (cs *ChatServer) handleStop() {
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
		delete(cs.clients, c)
		cs.stats.Decr(stats.ActiveClients)
	}
	cs.clientsLock.Unlock()

	cs.roomsLock.Lock()
	for id := range cs.rooms {
		delete(cs.rooms, id)
		cs.stats.Decr(stats.ActiveRooms)
	}
	cs.roomsLock.Unlock()
}
