package kvstore

// pendingSet tracks, for every key touched since it was created, the value
// that key resolved to just before the first touch. It is the generalized
// form of a scoped revert journal: instead of typed account fields (nonce,
// balance, code hash, ...) it tracks one raw prior-value slot per key, and
// instead of numbered snapshots it has exactly one scope, matching a buffer
// that is always either fully committed or fully aborted.
type pendingSet struct {
	order  []string
	prior  map[string][]byte
	exists map[string]bool
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		prior:  make(map[string][]byte),
		exists: make(map[string]bool),
	}
}

// touched reports whether key already has a recorded prior value.
func (p *pendingSet) touched(key []byte) bool {
	_, ok := p.prior[string(key)]
	return ok
}

// record stores the prior value of key the first time it is touched; later
// touches within the same pending set are no-ops, since only the value from
// before any of this scope's writes matters for a revert.
func (p *pendingSet) record(key []byte, value []byte, existed bool) {
	k := string(key)
	if _, ok := p.prior[k]; ok {
		return
	}
	p.order = append(p.order, k)
	if existed {
		cp := make([]byte, len(value))
		copy(cp, value)
		p.prior[k] = cp
		p.exists[k] = true
	} else {
		p.prior[k] = nil
		p.exists[k] = false
	}
}

// revert walks the touched keys in reverse touch order, invoking fn with
// each key's prior value so the caller can restore or remove it.
func (p *pendingSet) revert(fn func(key string, prior []byte, existed bool)) {
	for i := len(p.order) - 1; i >= 0; i-- {
		k := p.order[i]
		fn(k, p.prior[k], p.exists[k])
	}
}
