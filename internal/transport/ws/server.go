// Package ws serves the controller protocol: HELLO/WELCOME, then CMD
// messages answered by ACKs once the world loop has applied them.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peterwerner/spaceship-sim/internal/protocol"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, maxQ := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		acks := make(chan protocol.AckMsg, maxQ)
		out := make(chan []byte, maxQ)

		// Writer goroutine. It is the only writer after the handshake.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case ack := <-acks:
					b, _ = json.Marshal(ack)
				case b = <-out:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			cmd, code, reason := decodeCmd(msg)
			if code != "" {
				s.send(out, protocol.NewError(code, reason))
				continue
			}
			select {
			case s.world.Inbox() <- world.CmdRequest{Cmd: cmd, Resp: acks}:
			default:
				s.send(out, protocol.NewReject(cmd.ID, s.world.CurrentTick(), protocol.ErrWorldBusy, "command queue full"))
			}
		}

		cancel()
		<-done
		if s.log != nil {
			s.log.Printf("controller %s disconnected", sessionID)
		}
	}
}

func decodeCmd(msg []byte) (cmd protocol.CmdMsg, code, reason string) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return cmd, protocol.ErrProtoBadRequest, "invalid json"
	}
	if base.Type != protocol.TypeCmd {
		return cmd, protocol.ErrProtoBadRequest, "expected CMD, got " + base.Type
	}
	if base.ProtocolVersion != protocol.Version {
		return cmd, protocol.ErrProtoBadRequest, "bad protocol_version"
	}
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return cmd, protocol.ErrProtoBadRequest, "invalid CMD"
	}
	return cmd, "", ""
}

// send queues a message for the writer; it drops when the client is not
// keeping up.
func (s *Server) send(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, maxQ int) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", 0
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		refuse(conn, "expected HELLO")
		return "", 0
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		refuse(conn, "bad HELLO")
		return "", 0
	}
	if hello.ProtocolVersion != protocol.Version {
		refuse(conn, "bad protocol_version")
		return "", 0
	}
	if hello.ClientName == "" {
		hello.ClientName = "controller"
	}

	maxQ = hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 64
	}
	if maxQ > 1024 {
		maxQ = 1024
	}

	sessionID = "C-" + uuid.NewString()
	cfg := s.world.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		RunID:           cfg.ID,
		Tick:            s.world.CurrentTick(),
		TickRateHz:      cfg.TickRateHz,
		SceneDigest:     cfg.SceneDigest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", 0
	}
	if s.log != nil {
		s.log.Printf("controller %s connected name=%s", sessionID, hello.ClientName)
	}
	return sessionID, maxQ
}

// refuse reports a handshake failure as an ERROR message, then closes.
func refuse(conn *websocket.Conn, reason string) {
	_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, reason))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
