package websocket

import (
	"canvas-studio/editor"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type ackInvoker func(err error, payload map[string]any)

// Hub relays session events to the clients that joined the session's room
// and feeds their gesture streams back into the session.
type Hub struct {
	srv      *socketio.Server
	registry *editor.Registry

	mu    sync.RWMutex
	rooms map[string]int
}

func NewHub(registry *editor.Registry) *Hub {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			"tauri://localhost",
			localhostOrigin,
		},
		Credentials: true,
	})

	h := &Hub{
		srv:      socketio.NewServer(nil, opts),
		registry: registry,
		rooms:    make(map[string]int),
	}
	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	h.srv.On("connection", func(clients ...any) {
		if socket, ok := clients[0].(*socketio.Socket); ok {
			h.connect(socket)
		}
	})
	return h
}

func (h *Hub) Server() *socketio.Server {
	return h.srv
}

func (h *Hub) Close() {
	h.srv.Close(nil)
}

// Notify broadcasts a session event to its room.
func (h *Hub) Notify(sessionID, event string, payload any) {
	if err := h.srv.To(socketio.Room(sessionID)).Emit(event, payload); err != nil {
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "event": event, "error": err}).Warn("Failed to emit session event")
	}
}

// Connected returns the number of clients per session room.
func (h *Hub) Connected() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make(map[string]int, len(h.rooms))
	for k, v := range h.rooms {
		rooms[k] = v
	}
	return rooms
}

func (h *Hub) setRoomCount(sessionID string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 {
		delete(h.rooms, sessionID)
		return
	}
	h.rooms[sessionID] = n
}

func (h *Hub) connect(socket *socketio.Socket) {
	me := socket.Id()
	logrus.WithField("socket_id", me).Debug("Client connected")

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("join-session", func(datas ...any) {
		ack, args := extractAck(datas)
		sessionID, err := sessionArg(args)
		if err == nil {
			_, err = h.registry.Lookup(sessionID)
		}
		if err != nil {
			respondWithAck(socket, ack, "join-session-ack", errorPayload(err), err)
			return
		}

		room := socketio.Room(sessionID)
		socket.Join(room)
		h.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
			if fetchErr != nil {
				respondWithAck(socket, ack, "join-session-ack", errorPayload(fetchErr), fetchErr)
				return
			}
			h.setRoomCount(sessionID, len(users))

			ids := make([]socketio.SocketId, 0, len(users))
			for _, user := range users {
				ids = append(ids, user.Id())
			}
			logrus.WithFields(logrus.Fields{"session_id": sessionID, "users": len(users)}).Info("Client joined session")
			h.srv.In(room).Emit("room-user-change", ids)

			respondWithAck(socket, ack, "join-session-ack", map[string]any{
				"status":     "ok",
				"user_count": len(users),
			}, nil)
		})

		// the new client starts from the current scene
		if s, ok := h.registry.Get(sessionID); ok {
			_ = socket.Emit(editor.EventScene, s.Info())
		}
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("gestures", func(datas ...any) {
		ack, args := extractAck(datas)
		sessionID, err := sessionArg(args)
		if err != nil {
			respondWithAck(socket, ack, "", errorPayload(err), err)
			return
		}
		s, err := h.registry.Lookup(sessionID)
		if err != nil {
			respondWithAck(socket, ack, "", errorPayload(err), err)
			return
		}
		events, err := decodeGestures(args[1:])
		if err != nil {
			respondWithAck(socket, ack, "", errorPayload(err), err)
			return
		}
		handled := s.HandleGestures(events)
		respondWithAck(socket, ack, "", map[string]any{"status": "ok", "handled": handled}, nil)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("server-volatile-broadcast", func(datas ...any) {
		h.relay(socket, datas)
	})

	socket.On("disconnecting", func(datas ...any) {
		for _, current := range socket.Rooms().Keys() {
			current := current
			sessionID := string(current)
			if sessionID == string(me) {
				continue
			}
			h.srv.In(current).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
				others := make([]socketio.SocketId, 0, len(users))
				for _, user := range users {
					if user.Id() != me {
						others = append(others, user.Id())
					}
				}
				h.setRoomCount(sessionID, len(others))
				if len(others) > 0 {
					h.srv.In(current).Emit("room-user-change", others)
				}
			})
		}
	})

	socket.On("disconnect", func(datas ...any) {
		logrus.WithField("socket_id", me).Debug("Client disconnected")
		socket.RemoveAllListeners("")
		socket.Disconnect(true)
	})
}

// relay forwards cursor and presence payloads to the other clients of a
// session without touching its state.
func (h *Hub) relay(socket *socketio.Socket, datas []any) {
	sessionID, payload, ack := parseRelayArgs(datas)
	if sessionID == "" {
		err := fmt.Errorf("missing session id")
		respondWithAck(socket, ack, "", makeRelayAckPayload(payload, err), err)
		return
	}
	err := socket.Volatile().Broadcast().To(socketio.Room(sessionID)).Emit("client-broadcast", payload)
	respondWithAck(socket, ack, "", makeRelayAckPayload(payload, err), err)
}

func sessionArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("session id is required")
	}
	id, ok := args[0].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("invalid session id")
	}
	return id, nil
}

// decodeGestures accepts either one array of events or the events as
// separate arguments.
func decodeGestures(args []any) ([]editor.GestureEvent, error) {
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			args = list
		}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode gestures: %w", err)
	}
	var events []editor.GestureEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode gestures: %w", err)
	}
	return events, nil
}

func errorPayload(err error) map[string]any {
	return map[string]any{"status": "error", "error": err.Error()}
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}
	typ := value.Type()
	return func(err error, payload map[string]any) {
		value.Call(buildAckArgs(typ, err, payload))
	}
}

// buildAckArgs lays out (err, payload) for whatever callback shape the
// client registered. A single-argument callback gets err or payload.
func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)
	for i := 0; i < numIn; i++ {
		var v any
		switch {
		case numIn == 1 && err != nil:
			v = err
		case numIn == 1:
			v = payload
		case i == 0:
			v = err
		case i == 1:
			v = payload
		}
		args[i] = coerceValue(v, typ.In(i))
	}
	return args
}

func coerceValue(value any, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case rv.Type().ConvertibleTo(target):
		return rv.Convert(target)
	case target.Kind() == reflect.Interface && target.NumMethod() == 0:
		return rv
	case target.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(target)
	}
	return reflect.Zero(target)
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}
	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}

func parseRelayArgs(datas []any) (sessionID string, payload any, ack ackInvoker) {
	ack, args := extractAck(datas)
	if len(args) < 2 {
		return "", nil, ack
	}
	sessionID, _ = args[0].(string)
	return sessionID, args[1], ack
}

func makeRelayAckPayload(original any, ackErr error) map[string]any {
	response := map[string]any{"status": "ok"}
	if ackErr != nil {
		response["status"] = "error"
		response["error"] = ackErr.Error()
	}
	if m, ok := original.(map[string]any); ok {
		if id, ok := m["messageId"].(string); ok {
			response["messageId"] = id
		}
	}
	return response
}
