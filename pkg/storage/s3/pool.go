package s3

import "fmt"

// connectionPool is a fixed-size, channel-backed pool of api clients.
// It carries no health checker or hit/miss statistics: every client in
// the pool is equally usable (the SDK client is safe for concurrent use
// on its own), so the pool exists purely to cap concurrent in-flight
// requests per provider instance.
type connectionPool struct {
	clients chan api
}

func newConnectionPool(size int, factory func() (api, error)) (*connectionPool, error) {
	if size <= 0 {
		size = 8
	}
	if factory == nil {
		return nil, fmt.Errorf("s3: connection pool factory cannot be nil")
	}
	p := &connectionPool{clients: make(chan api, size)}
	for i := 0; i < size; i++ {
		c, err := factory()
		if err != nil {
			return nil, fmt.Errorf("s3: building pooled client: %w", err)
		}
		p.clients <- c
	}
	return p, nil
}

// get blocks until a client is available and returns it. put must be
// called with the same client once the caller is done.
func (p *connectionPool) get() api {
	return <-p.clients
}

func (p *connectionPool) put(c api) {
	p.clients <- c
}
