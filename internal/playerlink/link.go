// Package playerlink owns one live WebSocket per connected session: a
// writer goroutine draining a bounded outbound queue, and a reader loop
// decoding client frames and forwarding them into a room.Controller's
// mailbox. Modeled on internal/ws/handler.go's serveConn from the original
// chat/voice backend this module grew out of.
package playerlink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"amadeus/internal/room"
	"amadeus/internal/wire"
)

// sendBuffer bounds per-link outbound queueing (spec §5 backpressure).
const sendBuffer = 64

var errOverflow = errors.New("playerlink: send buffer full")

type outbound interface {
	write(conn *websocket.Conn) error
}

type textItem struct{ cmd wire.ServerCommand }

func (t textItem) write(conn *websocket.Conn) error { return conn.WriteJSON(t.cmd) }

// audioItem writes the SONG_DATA announcement and its binary payload back
// to back on the same connection so nothing else on this link can be
// interleaved between them (spec §4.1 framing rule, §4.4.4).
type audioItem struct {
	round int
	data  []byte
}

func (a audioItem) write(conn *websocket.Conn) error {
	if err := conn.WriteJSON(wire.SongDataCommand(a.round, len(a.data))); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, a.data)
}

// Link implements room.Link for one gorilla/websocket connection.
type Link struct {
	session string
	conn    *websocket.Conn
	send    chan outbound
	log     *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Link and starts its writer goroutine. Serve calls New for
// its connection and then runs the blocking read loop itself.
func New(conn *websocket.Conn, session string, log *slog.Logger) *Link {
	if log == nil {
		log = slog.Default()
	}
	l := &Link{
		session: session,
		conn:    conn,
		send:    make(chan outbound, sendBuffer),
		log:     log.With("session", session),
		closed:  make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

func (l *Link) writeLoop() {
	for item := range l.send {
		if err := item.write(l.conn); err != nil {
			l.log.Warn("write failed, closing link", "err", err)
			l.shutdown()
			return
		}
	}
}

// Send implements room.Link.
func (l *Link) Send(cmd wire.ServerCommand) error {
	return l.enqueue(textItem{cmd})
}

// SendAudio implements room.Link.
func (l *Link) SendAudio(round int, data []byte) error {
	return l.enqueue(audioItem{round: round, data: data})
}

// enqueue posts item to the writer goroutine's queue. Send/SendAudio/Close
// are called from the controller's run loop and from per-round audio helper
// goroutines, concurrently with each other and with shutdown() closing
// l.send (which this link's own writeLoop also triggers on a write error). A bare `l.send <- item`
// racing that close panics with "send on closed channel"; recover here
// turns that race into an ordinary overflow/closed error instead of
// crashing the process, the same way the teacher's trySend does.
func (l *Link) enqueue(item outbound) (err error) {
	defer func() {
		if recover() != nil {
			err = errOverflow
		}
	}()
	select {
	case l.send <- item:
		return nil
	case <-l.closed:
		return errOverflow
	default:
		l.log.Warn("outbound buffer full, closing link")
		l.shutdown()
		return errOverflow
	}
}

// Close implements room.Link: sends a close frame with the mapped code
// then tears down the connection.
func (l *Link) Close(reason room.CloseReason) error {
	code := closeCode(reason)
	msg := websocket.FormatCloseMessage(code, reason.String())
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	l.shutdown()
	return nil
}

func (l *Link) shutdown() {
	l.closeOnce.Do(func() {
		close(l.closed)
		close(l.send)
		l.conn.Close()
	})
}

func closeCode(reason room.CloseReason) int {
	switch reason {
	case room.CloseViolatedPolicy:
		return websocket.ClosePolicyViolation
	case room.CloseCannotAccept:
		return websocket.CloseTryAgainLater
	case room.CloseGoingAway:
		return websocket.CloseGoingAway
	case room.CloseProtocolError:
		return websocket.CloseProtocolError
	default:
		return websocket.CloseNormalClosure
	}
}

// Serve runs the blocking read loop for one accepted WebSocket: it admits
// the connection through ctrl, then decodes and forwards client commands
// until the socket closes. It returns once the link is done.
func Serve(ctx context.Context, conn *websocket.Conn, session string, ctrl *room.Controller, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	link := New(conn, session, log)
	defer link.shutdown()

	if err := ctrl.Join(ctx, session, link); err != nil {
		reason := room.CloseCannotAccept
		var ce room.CloseError
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		link.Close(reason)
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.BinaryMessage {
			log.Debug("protocol violation: binary frame from client", "session", session)
			continue
		}
		cmd, err := wire.DecodeClientCommand(data)
		if err != nil {
			log.Debug("malformed client frame", "session", session, "err", err)
			continue
		}
		switch cmd.Type {
		case wire.TypeStart:
			ctrl.Start(session)
		case wire.TypeNext:
			ctrl.Next(session)
		case wire.TypeBufferComplete:
			ctrl.BufferComplete(session, cmd.Round)
		case wire.TypeGuess:
			ctrl.Guess(session, cmd.Round, cmd.Guess)
		default:
			log.Debug("unknown client command ignored", "type", cmd.Type)
		}
	}

	ctrl.Closed(session, link)
}
