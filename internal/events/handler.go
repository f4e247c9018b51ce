package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cppjudge/internal/debugger"
	"cppjudge/internal/logging"
	"cppjudge/internal/registry"
	"cppjudge/pkg/models"
)

// Client -> server event names.
const (
	EventStartDebugging = "start_debugging"
	EventPing           = "ping"
	EventRun            = "run"
	EventContinue       = "continue"
	EventStep           = "step"
	EventFinish         = "finish"
	EventStop           = "stop"
)

// Server -> client event names.
const (
	EventStartedDebugging = "started_debugging"
	EventStoppedDebugging = "stopped_debugging"
	EventDebugData        = "debug_data"
	EventPong             = "pong"
)

// StatusInvalidAuth is returned for unknown or stopped session tokens.
const StatusInvalidAuth = "invalid authorization (or process might have been stopped)"

func statusPayload(status string) map[string]string {
	return map[string]string{"status": status}
}

// AdapterFactory constructs the debugger adapter for a freshly minted
// session ID.
type AdapterFactory func(sessionID string) *debugger.Adapter

// Handler translates named client events into adapter calls.
type Handler struct {
	registry *registry.Registry
	minter   *registry.Minter
	factory  AdapterFactory
}

// NewHandler wires the event dispatcher.
func NewHandler(reg *registry.Registry, minter *registry.Minter, factory AdapterFactory) *Handler {
	return &Handler{
		registry: reg,
		minter:   minter,
		factory:  factory,
	}
}

// Serve upgrades the HTTP request to a websocket and runs the
// connection's pumps.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(conn, h)
	go client.writePump()
	go client.readPump()
}

func (h *Handler) dispatch(c *Client, env Envelope) {
	switch env.Event {
	case EventStartDebugging:
		h.startDebugging(c, env.Data)
	case EventPing:
		h.ping(c, env.Data)
	case EventRun, EventContinue, EventStep, EventFinish:
		h.motion(c, env.Event, env.Data)
	case EventStop:
		h.stop(c, env.Data)
	default:
		c.Emit(EventDebugData, statusPayload(fmt.Sprintf("unknown event %q", env.Event)))
	}
}

type startPayload struct {
	Code  *string `json:"code"`
	Input *string `json:"input"`
}

func (h *Handler) startDebugging(c *Client, data json.RawMessage) {
	var p startPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Code == nil || p.Input == nil {
		c.Emit(EventDebugData, statusPayload("start_debugging requires string fields code and input"))
		return
	}

	sessionID, auth, err := h.minter.Mint()
	if err != nil {
		logging.L().Error("mint session token", zap.Error(err))
		c.Emit(EventDebugData, statusPayload("internal error"))
		return
	}

	ad := h.factory(sessionID)
	if err := os.WriteFile(ad.SourcePath(), []byte(*p.Code), 0o644); err != nil {
		logging.L().Error("write session source", zap.Error(err))
		c.Emit(EventDebugData, statusPayload("internal error"))
		return
	}
	h.registry.Register(sessionID, ad)

	code, detail := ad.Init(context.Background(), *p.Input)
	switch code {
	case 0:
		c.Emit(EventStartedDebugging, gin.H{
			"authorization":     auth,
			"compilation_error": false,
		})
	case -1:
		_ = ad.Stop()
		h.registry.Remove(sessionID)
		c.Emit(EventStartedDebugging, gin.H{
			"authorization":             auth,
			"compilation_error":         true,
			"compilation_error_details": detail,
		})
	default: // sandbox build or launch failure
		logging.L().Error("sandbox init failed", zap.String("session", sessionID), zap.String("detail", detail))
		_ = ad.Stop()
		h.registry.Remove(sessionID)
		c.Emit(EventStoppedDebugging, gin.H{})
	}
}

type authPayload struct {
	Authorization string `json:"authorization"`
}

func (h *Handler) ping(c *Client, data json.RawMessage) {
	ad, _, ok := h.resolve(data)
	if !ok {
		c.Emit(EventDebugData, statusPayload(StatusInvalidAuth))
		return
	}
	ad.Ping()
	c.Emit(EventPong, statusPayload("ok"))
}

type motionPayload struct {
	Authorization     string        `json:"authorization"`
	AddBreakpoints    []interface{} `json:"add_breakpoints"`
	RemoveBreakpoints []interface{} `json:"remove_breakpoints"`
}

func (h *Handler) motion(c *Client, event string, data json.RawMessage) {
	var p motionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.Emit(EventDebugData, statusPayload("invalid payload"))
		return
	}

	adds, err := parseBreakpoints(p.AddBreakpoints)
	if err != nil {
		c.Emit(EventDebugData, statusPayload(err.Error()))
		return
	}
	removes, err := parseBreakpoints(p.RemoveBreakpoints)
	if err != nil {
		c.Emit(EventDebugData, statusPayload(err.Error()))
		return
	}

	ad, sessionID, ok := h.resolveAuth(p.Authorization)
	if !ok {
		c.Emit(EventDebugData, statusPayload(StatusInvalidAuth))
		return
	}

	var snap *models.Snapshot
	switch event {
	case EventRun:
		snap = ad.Run(adds, removes)
	case EventContinue:
		snap = ad.Continue(adds, removes)
	case EventStep:
		snap = ad.Step(adds, removes)
	case EventFinish:
		snap = ad.Finish(adds, removes)
	}

	if snap == nil {
		c.Emit(EventDebugData, statusPayload(StatusInvalidAuth))
		return
	}
	if ad.CurrentState() == debugger.StateStopped {
		h.registry.Remove(sessionID)
	}
	c.Emit(EventDebugData, snap)
}

func (h *Handler) stop(c *Client, data json.RawMessage) {
	ad, sessionID, ok := h.resolve(data)
	if !ok {
		c.Emit(EventDebugData, statusPayload(StatusInvalidAuth))
		return
	}
	_ = ad.Stop()
	h.registry.Remove(sessionID)
	c.Emit(EventStoppedDebugging, gin.H{})
}

// resolve extracts the authorization field from data and looks the
// session up.
func (h *Handler) resolve(data json.RawMessage) (*debugger.Adapter, string, bool) {
	var p authPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "", false
	}
	return h.resolveAuth(p.Authorization)
}

func (h *Handler) resolveAuth(auth string) (*debugger.Adapter, string, bool) {
	sessionID, err := h.minter.Verify(auth)
	if err != nil {
		return nil, "", false
	}
	s, ok := h.registry.Get(sessionID)
	if !ok {
		return nil, "", false
	}
	ad, ok := s.(*debugger.Adapter)
	if !ok {
		return nil, "", false
	}
	return ad, sessionID, true
}

// parseBreakpoints coerces a JSON array of integers or integer-parsable
// strings into line numbers. Anything else rejects the request.
func parseBreakpoints(raw []interface{}) ([]int, error) {
	lines := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			if n != float64(int(n)) {
				return nil, fmt.Errorf("breakpoint %v is not an integer line number", v)
			}
			lines = append(lines, int(n))
		case string:
			parsed, err := strconv.Atoi(n)
			if err != nil {
				return nil, fmt.Errorf("breakpoint %q is not an integer line number", n)
			}
			lines = append(lines, parsed)
		default:
			return nil, fmt.Errorf("breakpoint %v is not an integer line number", v)
		}
	}
	return lines, nil
}
