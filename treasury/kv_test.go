package treasury

import (
	"context"
	"sync"
)

// capturePublisher records published events in order.
type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, append([]byte(nil), data...))
	return nil
}

func (p *capturePublisher) bySubject(subject string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for i, s := range p.subjects {
		if s == subject {
			out = append(out, p.payloads[i])
		}
	}
	return out
}
