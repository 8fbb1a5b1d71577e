package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT / vertical tab).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS / file separator).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D

	defaultMaxMessageSize = 1 << 20
	defaultReadTimeout    = 30 * time.Second
	writeTimeout          = 10 * time.Second
)

// ErrRejected can be wrapped by a MessageHandler to answer AR instead of AE.
var ErrRejected = errors.New("hl7v2: message rejected")

// MessageHandler processes one received message. raw is the decoded message
// text. A nil error is acknowledged with AA; errors wrapping ErrRejected with
// AR; anything else with AE.
type MessageHandler func(ctx context.Context, msg *Message, raw string) error

// MLLPOption configures an MLLPServer.
type MLLPOption func(*MLLPServer)

// WithMLLPLogger sets the server logger.
func WithMLLPLogger(l zerolog.Logger) MLLPOption {
	return func(s *MLLPServer) { s.logger = l }
}

// WithReadTimeout sets how long an idle connection is kept open.
func WithReadTimeout(d time.Duration) MLLPOption {
	return func(s *MLLPServer) { s.readTimeout = d }
}

// WithMaxMessageSize bounds the bytes buffered for one frame.
func WithMaxMessageSize(n int) MLLPOption {
	return func(s *MLLPServer) { s.maxMessageSize = n }
}

// MLLPServer listens for HL7v2 messages over MLLP/TCP.
type MLLPServer struct {
	addr           string
	handler        MessageHandler
	logger         zerolog.Logger
	readTimeout    time.Duration
	maxMessageSize int
	now            func() time.Time

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewMLLPServer creates a new MLLP server that will listen on the given
// address and dispatch decoded messages to handler.
func NewMLLPServer(addr string, handler MessageHandler, opts ...MLLPOption) *MLLPServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &MLLPServer{
		addr:           addr,
		handler:        handler,
		logger:         zerolog.Nop(),
		readTimeout:    defaultReadTimeout,
		maxMessageSize: defaultMaxMessageSize,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		conns:          make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins listening for connections. It is non-blocking: the accept loop
// runs in a background goroutine.
func (s *MLLPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("mllp listener started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

// Stop closes the listener and every open connection, cancels in-flight
// handlers and waits for all goroutines to finish.
func (s *MLLPServer) Stop() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the listener address string. This is especially useful when the
// server was started with port 0 (OS-assigned port).
func (s *MLLPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *MLLPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("mllp accept failed")
			return
		}

		s.trackConn(conn, true)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *MLLPServer) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// handleConnection reads MLLP-framed messages from conn and answers each
// complete frame with an ACK.
func (s *MLLPServer) handleConnection(conn net.Conn) {
	log := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		if s.ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			if len(buf) > s.maxMessageSize {
				log.Warn().Int("buffered", len(buf)).Msg("mllp frame exceeds max size, closing connection")
				return
			}

			for {
				frame, rest, found := UnframeMessage(buf)
				if !found {
					break
				}
				buf = rest
				if !s.processFrame(conn, frame, log) {
					return
				}
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(buf) > 0 {
				// Keep reading to finish the partial frame.
				continue
			}
			return
		}
	}
}

// processFrame decodes, dispatches and acknowledges one frame. It reports
// whether the connection is still writable.
func (s *MLLPServer) processFrame(conn net.Conn, frame []byte, log zerolog.Logger) bool {
	code, text := AckAccept, ""
	var msg *Message

	raw, err := Decode(frame)
	if err == nil {
		msg, err = ParseString(raw)
	}
	switch {
	case err != nil:
		code, text = AckReject, err.Error()
		log.Warn().Err(err).Msg("mllp frame rejected")
	default:
		if herr := s.handler(s.ctx, msg, raw); herr != nil {
			code, text = AckError, herr.Error()
			if errors.Is(herr, ErrRejected) {
				code = AckReject
			}
			log.Warn().Err(herr).Str("control_id", msg.ControlID).Str("ack", code).Msg("mllp message not accepted")
		} else {
			log.Debug().Str("control_id", msg.ControlID).Str("type", msg.Type).Msg("mllp message accepted")
		}
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(FrameMessage(BuildACK(msg, code, text, s.now()))); err != nil {
		log.Error().Err(err).Msg("mllp ack write failed")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// MLLP framing helpers
// ---------------------------------------------------------------------------

// FrameMessage wraps raw HL7v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	return append(frame, MLLPEndBlock, MLLPCarriageReturn)
}

// UnframeMessage extracts the first complete frame from data. Bytes before
// the start block are discarded. found is false until the end sequence has
// arrived.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	start := bytes.IndexByte(data, MLLPStartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{MLLPEndBlock, MLLPCarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end += start + 1
	return data[start+1 : end], data[end+2:], true
}

// Send delivers one message to an MLLP listener and returns the unframed
// acknowledgement. The deadline of ctx bounds the whole exchange; without
// one, defaultReadTimeout applies.
func Send(ctx context.Context, addr string, message []byte) ([]byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("hl7v2: dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultReadTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write(FrameMessage(message)); err != nil {
		return nil, fmt.Errorf("hl7v2: send: %w", err)
	}

	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if ack, _, found := UnframeMessage(buf); found {
			return ack, nil
		}
		if err != nil {
			return nil, fmt.Errorf("hl7v2: read ack: %w", err)
		}
		if len(buf) > defaultMaxMessageSize {
			return nil, errors.New("hl7v2: acknowledgement too large")
		}
	}
}
