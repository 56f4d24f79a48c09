package server

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Room is the live subscriber set of one chat room. It holds no history;
// it exists only while at least one connection is subscribed.
type Room struct {
	id         int64
	clients    map[*Client]struct{}
	clientLock sync.RWMutex
	log        *logrus.Entry
}

func newRoom(id int64, logger *logrus.Logger) *Room {
	return &Room{
		id:      id,
		clients: make(map[*Client]struct{}),
		log:     logger.WithField("room_id", id),
	}
}

// addClient reports whether c was not already subscribed.
func (r *Room) addClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; ok {
		return false
	}

	r.clients[c] = struct{}{}
	return true
}

// removeClient reports whether c was subscribed.
func (r *Room) removeClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	return true
}

func (r *Room) hasClient(c *Client) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	return ok
}

func (r *Room) size() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients)
}

// broadcast queues msg for every subscriber and returns how many accepted
// it and how many were dropped because their queue was full.
func (r *Room) broadcast(msg *ServerMessage) (delivered, dropped int) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client.queueMessage(msg) {
			delivered++
		} else {
			dropped++
		}
	}

	r.log.WithFields(logrus.Fields{
		"delivered": delivered,
		"dropped":   dropped,
	}).Debug("broadcast message")

	return delivered, dropped
}
