package ws

import (
	"sort"
	"sync"
	"time"
)

// OnlineUser is a presence snapshot entry
type OnlineUser struct {
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	ConnectionID string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

type presenceEntry struct {
	client   *Client
	lastSeen time.Time
}

// Presence maps each identity to its current connection. A newer connection
// for the same identity replaces the older one.
type Presence struct {
	mu      sync.RWMutex
	entries map[string]*presenceEntry
	now     func() time.Time
}

func NewPresence() *Presence {
	return &Presence{
		entries: make(map[string]*presenceEntry),
		now:     time.Now,
	}
}

// Register makes c the connection of its identity and returns the one it replaced, if any
func (p *Presence) Register(c *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	var replaced *Client
	if prev, ok := p.entries[c.UserID()]; ok {
		replaced = prev.client
	}
	p.entries[c.UserID()] = &presenceEntry{client: c, lastSeen: p.now()}
	return replaced
}

// Unregister removes c only if it is still the registered connection of its identity.
// The returned entry time is the last activity seen on c.
func (p *Presence) Unregister(c *Client) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[c.UserID()]
	if !ok || e.client != c {
		return time.Time{}, false
	}
	delete(p.entries, c.UserID())
	return e.lastSeen, true
}

// Lookup returns the current connection of userID
func (p *Presence) Lookup(userID string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[userID]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// Touch records activity on c if it is the registered connection
func (p *Presence) Touch(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[c.UserID()]; ok && e.client == c {
		e.lastSeen = p.now()
	}
}

// Online returns every registered identity ordered by connect time
func (p *Presence) Online() []OnlineUser {
	p.mu.RLock()
	out := make([]OnlineUser, 0, len(p.entries))
	for id, e := range p.entries {
		out = append(out, OnlineUser{
			UserID:       id,
			Name:         e.client.user.Name,
			ConnectionID: e.client.ID,
			ConnectedAt:  e.client.connectedAt,
			LastSeen:     e.lastSeen,
		})
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Len returns the number of online identities
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
