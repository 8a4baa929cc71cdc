package core

import "time"

// call is the relay's minimal mirror of a call in flight: just enough to
// route the next payload, enforce the dial timeout, and clean up on
// disconnect. Session state proper is owned by the two peer sessions.
type call struct {
	id       string
	callerID string
	calleeID string

	// caller is the connection that dialed; answeredBy is the callee
	// connection that claimed the call, nil while still ringing.
	caller     *Client
	answeredBy *Client

	video bool
	timer *time.Timer
}

func (c *call) answered() bool {
	return c.answeredBy != nil
}

// callTable tracks pending and answered calls, indexed by call id and by
// both party identities. One call per identity at a time; a second dial
// from or to a busy identity is rejected.
type callTable struct {
	byID       map[string]*call
	byIdentity map[string]*call
}

func newCallTable() *callTable {
	return &callTable{
		byID:       make(map[string]*call),
		byIdentity: make(map[string]*call),
	}
}

func (t *callTable) get(id string) (*call, bool) {
	c, ok := t.byID[id]
	return c, ok
}

func (t *callTable) forIdentity(identity string) (*call, bool) {
	c, ok := t.byIdentity[identity]
	return c, ok
}

func (t *callTable) busy(identity string) bool {
	_, ok := t.byIdentity[identity]
	return ok
}

func (t *callTable) insert(c *call) {
	t.byID[c.id] = c
	t.byIdentity[c.callerID] = c
	t.byIdentity[c.calleeID] = c
}

func (t *callTable) remove(c *call) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	delete(t.byID, c.id)
	delete(t.byIdentity, c.callerID)
	delete(t.byIdentity, c.calleeID)
}
