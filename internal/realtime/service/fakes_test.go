package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/store"
	"github.com/adimov-eth/vibecheck-sub001/pkg/idx"
	"github.com/adimov-eth/vibecheck-sub001/pkg/wsx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// testToken mints an HS256 JWT expiring at the given time, so the credential
// service can parse a real exp claim.
func testToken(t *testing.T, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

// fakeProvider counts fetches and serves a configurable result.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	token string
	err   error
	delay time.Duration
}

func (p *fakeProvider) FetchToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.calls++
	token, err, delay := p.token, p.err, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) set(token string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.err = err
}

// memStore is an in-memory store.Store for service tests. The sqlite driver
// has its own tests.
type memStore struct {
	mu   sync.Mutex
	cred *domain.Credential
	msgs []domain.OutboundMessage
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) Credentials() store.Credentials { return (*memCredentials)(s) }
func (s *memStore) Outbox() store.Outbox           { return (*memOutbox)(s) }
func (s *memStore) ApplyMigrations() error         { return nil }
func (s *memStore) Close() error                   { return nil }
func (s *memStore) Ping(ctx context.Context) error { return nil }

type memCredentials memStore

func (s *memCredentials) Get(ctx context.Context) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return domain.Credential{}, store.ErrNotFound
	}
	return *s.cred, nil
}

func (s *memCredentials) Put(ctx context.Context, c domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &c
	return nil
}

func (s *memCredentials) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

type memOutbox memStore

func (s *memOutbox) Append(ctx context.Context, m domain.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *memOutbox) List(ctx context.Context) ([]domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboundMessage, len(s.msgs))
	copy(out, s.msgs)
	return out, nil
}

func (s *memOutbox) Delete(ctx context.Context, id idx.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.msgs {
		if m.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memOutbox) TrimToNewest(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) > n {
		s.msgs = append([]domain.OutboundMessage(nil), s.msgs[len(s.msgs)-n:]...)
	}
	return nil
}

func (s *memOutbox) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs), nil
}

// fakeConn is an in-memory wsx.Conn driven by the test.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []domain.Frame
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}

	var frame domain.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.written = append(c.written, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, frame domain.Frame) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, len(c.written))
	for i, f := range c.written {
		types[i] = f.Type
	}
	return types
}

func (c *fakeConn) sent() []domain.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Frame, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// fakeDialer hands out fakeConns and counts dials.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	fails   int
	dialErr error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (wsx.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		d.fails++
		return nil, d.dialErr
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) failCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fails
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}
