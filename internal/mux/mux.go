// Package mux multiplexes many logical byte streams over one underlying
// connection. A single goroutine reads length-prefixed frames off the
// wire and dispatches them by opcode to per-stream buffers, the same shape
// as a tunnel-channel system keyed by stream ID instead of a port pair.
package mux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/yuntianx454/geph5/internal/wire"
)

type opcode uint8

const (
	opOpen opcode = iota
	opData
	opClose
)

// ErrSessionClosed is returned by Open once the session is closed, and by
// Accept and stream reads after Close. When the read loop dies instead,
// Accept and stream reads return the read loop's error. Writes on a stream
// that has been closed return io.ErrClosedPipe.
var ErrSessionClosed = errors.New("mux: session closed")

// Session multiplexes Streams over a single io.ReadWriteCloser.
type Session struct {
	conn io.ReadWriteCloser

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[uint32]*Stream
	nextID  uint32
	local   uint32 // 0 or 1: parity of locally-opened stream IDs

	acceptCh chan *Stream
	closeCh  chan struct{}
	closeErr error
	once     sync.Once
}

// NewSession wraps conn for multiplexing. isClient selects which half of
// the ID space this side allocates from (client: even, exit: odd), so
// both sides can open streams without colliding.
func NewSession(conn io.ReadWriteCloser, isClient bool) *Session {
	s := &Session{
		conn:     conn,
		streams:  make(map[uint32]*Stream),
		acceptCh: make(chan *Stream, 16),
		closeCh:  make(chan struct{}),
	}
	if !isClient {
		s.local = 1
	}
	s.nextID = s.local
	go s.readLoop()
	return s
}

// Open starts a new logical stream and signals the peer to accept it.
func (s *Session) Open(ctx context.Context) (*Stream, error) {
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	id := s.nextID
	s.nextID += 2
	st := newStream(id, s)
	s.streams[id] = st
	s.mu.Unlock()

	if err := s.writeFrame(opOpen, id, nil); err != nil {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
		return nil, err
	}
	return st, nil
}

// Accept blocks until the peer opens a new stream, ctx is cancelled, or the
// session closes.
func (s *Session) Accept(ctx context.Context) (*Stream, error) {
	select {
	case st, ok := <-s.acceptCh:
		if !ok {
			return nil, s.closeErrOrDefault()
		}
		return st, nil
	case <-s.closeCh:
		return nil, s.closeErrOrDefault()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the session and every open stream.
func (s *Session) Close() error {
	s.closeLocked(ErrSessionClosed)
	return s.conn.Close()
}

func (s *Session) closeErrOrDefault() error {
	if s.closeErr != nil {
		return s.closeErr
	}
	return ErrSessionClosed
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

func (s *Session) closeLocked(err error) {
	s.once.Do(func() {
		s.closeErr = err
		s.mu.Lock()
		for _, st := range s.streams {
			st.closeLocal(err)
		}
		s.streams = nil
		s.mu.Unlock()
		close(s.closeCh)
		close(s.acceptCh)
	})
}

func (s *Session) writeFrame(op opcode, id uint32, payload []byte) error {
	e := wire.NewEncoder()
	e.Uint8(uint8(op))
	e.Uint32(id)
	e.Bytes(payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFramed(s.conn, e.Encode())
}

func (s *Session) readLoop() {
	for {
		frame, err := wire.ReadFramed(s.conn)
		if err != nil {
			s.closeLocked(err)
			return
		}
		d := wire.NewDecoder(frame)
		op := opcode(d.Uint8())
		id := d.Uint32()
		payload := d.Bytes()
		if d.Err() != nil {
			s.closeLocked(d.Err())
			return
		}

		switch op {
		case opOpen:
			s.handleOpen(id)
		case opData:
			s.handleData(id, payload)
		case opClose:
			s.handleClose(id)
		}
	}
}

func (s *Session) handleOpen(id uint32) {
	s.mu.Lock()
	if s.streams == nil {
		s.mu.Unlock()
		return
	}
	if _, exists := s.streams[id]; exists {
		s.mu.Unlock()
		return
	}
	st := newStream(id, s)
	s.streams[id] = st
	s.mu.Unlock()

	select {
	case s.acceptCh <- st:
	case <-s.closeCh:
	}
}

func (s *Session) handleData(id uint32, payload []byte) {
	s.mu.Lock()
	st := s.streams[id]
	s.mu.Unlock()
	if st == nil {
		return
	}
	st.pushData(payload)
}

func (s *Session) handleClose(id uint32) {
	s.mu.Lock()
	st := s.streams[id]
	if st != nil {
		delete(s.streams, id)
	}
	s.mu.Unlock()
	if st != nil {
		st.closeLocal(io.EOF)
	}
}

// Stream is one multiplexed logical connection: an io.ReadWriteCloser.
type Stream struct {
	id      uint32
	session *Session

	readMu  sync.Mutex
	readBuf bytes.Buffer
	readCh  chan struct{}

	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newStream(id uint32, s *Session) *Stream {
	return &Stream{
		id:      id,
		session: s,
		readCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

func (st *Stream) pushData(payload []byte) {
	st.readMu.Lock()
	st.readBuf.Write(payload)
	st.readMu.Unlock()
	select {
	case st.readCh <- struct{}{}:
	default:
	}
}

func (st *Stream) closeLocal(err error) {
	st.closeOnce.Do(func() {
		st.closeErr = err
		close(st.closeCh)
	})
}

// Read implements io.Reader, blocking until data is available, the stream
// closes, or the peer sends a close for this stream.
func (st *Stream) Read(b []byte) (int, error) {
	for {
		st.readMu.Lock()
		if st.readBuf.Len() > 0 {
			n, _ := st.readBuf.Read(b)
			st.readMu.Unlock()
			return n, nil
		}
		st.readMu.Unlock()

		select {
		case <-st.readCh:
			continue
		case <-st.closeCh:
			st.readMu.Lock()
			if st.readBuf.Len() > 0 {
				n, _ := st.readBuf.Read(b)
				st.readMu.Unlock()
				return n, nil
			}
			st.readMu.Unlock()
			if st.closeErr != nil {
				return 0, st.closeErr
			}
			return 0, io.EOF
		}
	}
}

// Write implements io.Writer, sending b as a single data frame. A b too
// large to fit in one frame (wire.MaxFrameLen) fails with
// wire.ErrFrameTooLarge; it is not split across frames.
func (st *Stream) Write(b []byte) (int, error) {
	select {
	case <-st.closeCh:
		return 0, io.ErrClosedPipe
	default:
	}
	if err := st.session.writeFrame(opData, st.id, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close signals the peer that this stream is done and releases local
// bookkeeping.
func (st *Stream) Close() error {
	st.closeLocal(io.EOF)
	st.session.mu.Lock()
	if st.session.streams != nil {
		delete(st.session.streams, st.id)
	}
	st.session.mu.Unlock()
	return st.session.writeFrame(opClose, st.id, nil)
}

var _ io.ReadWriteCloser = (*Stream)(nil)
