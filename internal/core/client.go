package core

// Client is one live transport connection as seen by the core layer.
// A single identity may own several clients at once (multi-device).
type Client struct {
	ConnID   string
	Identity string
	Commands chan *Command
	Events   chan *Event

	// rooms and done are owned by the hub goroutine.
	rooms map[string]struct{}
	done  chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(connID, identity string) *Client {
	if identity == "" {
		identity = connID
	}
	return &Client{
		ConnID:   connID,
		Identity: identity,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 8),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// send delivers an event without blocking the hub. Slow consumers drop.
func (c *Client) send(event *Event) {
	select {
	case c.Events <- event:
	default:
		// Drop if slow consumer.
	}
}
