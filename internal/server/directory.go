package server

import "sync"

// directory maps online users to their live connections.
type directory struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	users   map[int]map[*Client]struct{}
}

func newDirectory() *directory {
	return &directory{
		clients: make(map[*Client]struct{}),
		users:   make(map[int]map[*Client]struct{}),
	}
}

// register adds c and reports whether it is the user's first connection.
func (d *directory) register(c *Client) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.clients[c]; ok {
		return false
	}
	d.clients[c] = struct{}{}

	conns, ok := d.users[c.user.Id]
	if !ok {
		conns = make(map[*Client]struct{})
		d.users[c.user.Id] = conns
	}
	conns[c] = struct{}{}

	return len(conns) == 1
}

// unregister removes c. removed is false if c was not registered, last is
// true if the user has no connections left.
func (d *directory) unregister(c *Client) (removed, last bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.clients[c]; !ok {
		return false, false
	}
	delete(d.clients, c)

	conns := d.users[c.user.Id]
	delete(conns, c)
	if len(conns) == 0 {
		delete(d.users, c.user.Id)
		return true, true
	}

	return true, false
}

func (d *directory) lookup(userId int) []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()

	conns := d.users[userId]
	out := make([]*Client, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

func (d *directory) online(userId int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.users[userId]
	return ok
}

func (d *directory) all() []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Client, 0, len(d.clients))
	for c := range d.clients {
		out = append(out, c)
	}
	return out
}

func (d *directory) len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}
