package core

// registry maps identities to their live connections. It is owned by the
// hub goroutine and must never be touched from outside it; all access is
// serialized through hub commands.
type registry struct {
	conns map[string]map[*Client]struct{}
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]map[*Client]struct{})}
}

// add registers a connection. Returns true if this is the identity's first
// live connection (i.e. the identity just came online).
func (r *registry) add(c *Client) bool {
	set, ok := r.conns[c.Identity]
	if !ok {
		set = make(map[*Client]struct{})
		r.conns[c.Identity] = set
	}
	set[c] = struct{}{}
	return !ok
}

// remove unregisters a connection. Idempotent. Returns true if the identity
// has no remaining connections (i.e. it just went offline).
func (r *registry) remove(c *Client) bool {
	set, ok := r.conns[c.Identity]
	if !ok {
		return false
	}
	if _, present := set[c]; !present {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.Identity)
		return true
	}
	return false
}

// has reports whether the connection is currently registered.
func (r *registry) has(c *Client) bool {
	set, ok := r.conns[c.Identity]
	if !ok {
		return false
	}
	_, present := set[c]
	return present
}

// lookup returns all live connections of an identity, possibly none.
func (r *registry) lookup(identity string) []*Client {
	set, ok := r.conns[identity]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// online returns the set of identities holding at least one connection.
func (r *registry) online() []string {
	out := make([]string, 0, len(r.conns))
	for identity := range r.conns {
		out = append(out, identity)
	}
	return out
}

// each visits every registered connection.
func (r *registry) each(fn func(*Client)) {
	for _, set := range r.conns {
		for c := range set {
			fn(c)
		}
	}
}
