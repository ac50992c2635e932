package state

import "sync"

// Population is the set of all users ever admitted to the service,
// capped at a fixed size. Membership is permanent: losing an idle
// session does not free a slot. This is deliberate so the cap bounds
// lifetime cost, not concurrent load.
type Population struct {
	mu      sync.Mutex
	max     int
	members map[string]struct{}
}

func NewPopulation(max int) *Population {
	return &Population{
		max:     max,
		members: make(map[string]struct{}),
	}
}

// TryAdmit admits the user if they are already a member or a slot is
// free. A refused attempt leaves no trace.
func (p *Population) TryAdmit(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.members[userID]; ok {
		return true
	}
	if len(p.members) >= p.max {
		return false
	}
	p.members[userID] = struct{}{}
	return true
}

func (p *Population) Contains(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.members[userID]
	return ok
}

func (p *Population) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

func (p *Population) Max() int {
	return p.max
}

func (p *Population) Export() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.members))
	for userID := range p.members {
		out = append(out, userID)
	}
	return out
}

func (p *Population) Import(members []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members = make(map[string]struct{}, len(members))
	for _, userID := range members {
		p.members[userID] = struct{}{}
	}
}
