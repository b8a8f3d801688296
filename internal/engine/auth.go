package engine

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/ambonmud/server/internal/id"
)

// authKind selects the KDF operation a worker performs.
type authKind int

const (
	authVerify authKind = iota
	authHash
)

type authRequest struct {
	sid      id.SessionID
	kind     authKind
	password string
	hash     string // verify only
}

type authResult struct {
	sid  id.SessionID
	kind authKind
	ok   bool   // verify outcome
	hash string // hash outcome
	err  error
}

// authPool runs bcrypt off the engine thread. Sized authThreads because the
// KDF is CPU-bound; the login semaphore caps how much can queue here. Results
// are drained by the engine on its own tick.
type authPool struct {
	requests chan authRequest
	results  chan authResult
}

func newAuthPool(workers int) *authPool {
	p := &authPool{
		requests: make(chan authRequest, workers*4),
		results:  make(chan authResult, workers*4),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *authPool) worker() {
	for req := range p.requests {
		res := authResult{sid: req.sid, kind: req.kind}
		switch req.kind {
		case authVerify:
			res.ok = bcrypt.CompareHashAndPassword([]byte(req.hash), []byte(req.password)) == nil
		case authHash:
			h, err := bcrypt.GenerateFromPassword([]byte(req.password), bcrypt.DefaultCost)
			res.hash, res.err = string(h), err
		}
		p.results <- res
	}
}

// submit enqueues a KDF job. Reports false when the queue is saturated; the
// caller surfaces a busy error instead of blocking the tick.
func (p *authPool) submit(req authRequest) bool {
	select {
	case p.requests <- req:
		return true
	default:
		return false
	}
}

// drain returns all completed results without blocking.
func (p *authPool) drain() []authResult {
	var out []authResult
	for {
		select {
		case res := <-p.results:
			out = append(out, res)
		default:
			return out
		}
	}
}

func (p *authPool) close() {
	close(p.requests)
}
