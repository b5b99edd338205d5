package account

import "sync"

// Metadata is what the metadata endpoint reports for a credential.
type Metadata struct {
	DisplayName string `json:"tokenName"`
	PointTotal  string `json:"pointsTotal"`
	CreatedAt   string `json:"createdAt"`
}

// Account is a read-only view handed out by Store.Snapshot.
type Account struct {
	Index      int
	Credential string
	Metadata   *Metadata
	Status     Status
}

// Store owns the account pool, the credential->metadata map and the in-flight counter.
// Writes happen on the event consumer; reads are safe from any goroutine.
type Store struct {
	mu       sync.RWMutex
	creds    []string
	status   []Status
	meta     map[string]Metadata
	inFlight int
}

func NewStore() *Store {
	return &Store{meta: map[string]Metadata{}}
}

// Replace swaps in a freshly loaded credential list. Every status goes back to Pending;
// metadata already known for a credential is kept.
func (s *Store) Replace(creds []string) {
	cp := make([]string, len(creds))
	copy(cp, creds)
	s.mu.Lock()
	s.creds = cp
	s.status = make([]Status, len(cp))
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

func (s *Store) Credential(i int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.creds) {
		return "", false
	}
	return s.creds[i], true
}

func (s *Store) Credentials() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.creds))
	copy(out, s.creds)
	return out
}

// SetStatus reports false when i no longer exists (the pool was reloaded meanwhile).
func (s *Store) SetStatus(i int, st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.status) {
		return false
	}
	s.status[i] = st
	return true
}

func (s *Store) Status(i int) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.status) {
		return Pending, false
	}
	return s.status[i], true
}

// MergeMetadata adds or overwrites entries; it never removes any.
func (s *Store) MergeMetadata(m map[string]Metadata) {
	s.mu.Lock()
	for k, v := range m {
		s.meta[k] = v
	}
	s.mu.Unlock()
}

func (s *Store) Metadata(cred string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[cred]
	return m, ok
}

func (s *Store) Snapshot() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, len(s.creds))
	for i, c := range s.creds {
		a := Account{Index: i, Credential: c, Status: s.status[i]}
		if m, ok := s.meta[c]; ok {
			mm := m
			a.Metadata = &mm
		}
		out[i] = a
	}
	return out
}

// Stats counts accounts per status.
func (s *Store) Stats() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Status]int, len(All))
	for _, st := range s.status {
		out[st]++
	}
	return out
}

// BeginBatch sets the in-flight counter to n unless a batch is still running.
func (s *Store) BeginBatch(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		return false
	}
	s.inFlight = n
	return true
}

// BeginTask accounts for one more task outside of a batch.
func (s *Store) BeginTask() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

// CompleteTask decrements the counter and returns what is left.
func (s *Store) CompleteTask() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	return s.inFlight
}

func (s *Store) InFlight() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}
