package rediscluster

// NodeHandle wraps one NodeClient with the Pool's bookkeeping of its
// endpoint and role. Exclusively owned by the Pool: created on
// findOrCreate, destroyed (disconnected) when reset computes it absent
// from a new endpoint set (spec §3, NodeHandle).
type NodeHandle struct {
	Endpoint Endpoint
	Role     Role
	Client   NodeClient
}

func (h *NodeHandle) key() string { return h.Endpoint.Key() }

// Pool owns one NodeHandle per known endpoint and emits +node/-node/
// drain as that set changes (spec §4.A). All methods run on the
// Controller's executor goroutine; none lock, because nothing else
// ever touches these maps.
type Pool struct {
	opts     Options
	emitter  *Emitter
	wasEmpty bool

	all   map[string]*NodeHandle
	master map[string]*NodeHandle
	slave  map[string]*NodeHandle
}

func newPool(opts Options, emitter *Emitter) *Pool {
	return &Pool{
		opts:     opts,
		emitter:  emitter,
		wasEmpty: true,
		all:     make(map[string]*NodeHandle),
		master:  make(map[string]*NodeHandle),
		slave:   make(map[string]*NodeHandle),
	}
}

// nodes returns a snapshot slice for role "all" | "master" | "slave"
// (spec §4.A). Always a defensive copy: callers sampling under the
// Router must never race a concurrent reset.
func (p *Pool) nodes(role string) []*NodeHandle {
	var src map[string]*NodeHandle
	switch role {
	case "master":
		src = p.master
	case "slave":
		src = p.slave
	default:
		src = p.all
	}
	out := make([]*NodeHandle, 0, len(src))
	for _, h := range src {
		out = append(out, h)
	}
	return out
}

func (p *Pool) get(key string) (*NodeHandle, bool) {
	h, ok := p.all[key]
	return h, ok
}

// findOrCreate is idempotent: it returns the existing handle for
// endpoint if present, else creates one with default role master,
// inserts it, and emits +node (spec §4.A).
func (p *Pool) findOrCreate(ep Endpoint) *NodeHandle {
	key := ep.Key()
	if h, ok := p.all[key]; ok {
		return h
	}
	h := &NodeHandle{
		Endpoint: ep,
		Role:     RoleMaster,
		Client:   p.opts.Dial(key, p.opts.RedisOptions),
	}
	p.all[key] = h
	p.master[key] = h
	p.emitter.Emit("+node", h)
	return h
}

// reset computes the symmetric difference between endpoints and the
// current `all` set: new endpoints are created (+node), removed ones
// are disconnected (-node), and endpoints present in both have their
// role reassigned in place without churning the NodeHandle (spec
// §4.A). If `all` becomes empty having been non-empty, emits drain.
func (p *Pool) reset(endpoints []Endpoint) {
	wanted := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		wanted[ep.Key()] = ep
	}

	for key, h := range p.all {
		ep, keep := wanted[key]
		if !keep {
			delete(p.all, key)
			delete(p.master, key)
			delete(p.slave, key)
			h.Client.Disconnect()
			p.emitter.Emit("-node", h)
			continue
		}
		p.reassignRole(h, ep)
	}

	for key, ep := range wanted {
		if _, exists := p.all[key]; exists {
			continue
		}
		h := &NodeHandle{
			Endpoint: ep,
			Role:     roleOf(ep),
			Client:   p.opts.Dial(key, p.opts.RedisOptions),
		}
		p.all[key] = h
		p.indexByRole(h)
		p.emitter.Emit("+node", h)
	}

	if len(p.all) == 0 {
		if p.wasEmpty {
			return
		}
		p.wasEmpty = true
		p.emitter.Emit("drain")
	} else {
		p.wasEmpty = false
	}
}

func roleOf(ep Endpoint) Role {
	if ep.ReadOnly {
		return RoleSlave
	}
	return RoleMaster
}

func (p *Pool) indexByRole(h *NodeHandle) {
	if h.Role == RoleSlave {
		p.slave[h.key()] = h
	} else {
		p.master[h.key()] = h
	}
}

func (p *Pool) reassignRole(h *NodeHandle, ep Endpoint) {
	newRole := roleOf(ep)
	if newRole == h.Role {
		return
	}
	delete(p.master, h.key())
	delete(p.slave, h.key())
	h.Role = newRole
	h.Endpoint = ep
	p.indexByRole(h)
}
