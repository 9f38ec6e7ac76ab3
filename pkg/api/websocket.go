package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/task"
)

var agentUpgraderOpts = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope is the wire shape for both directions of the agent session
// protocol — the same Type/Data split the teacher's WSMessage uses.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsSession adapts a gorilla *websocket.Conn to agent.Session.
// gorilla connections are not safe for concurrent writers, hence the
// mutex around WriteJSON.
type wsSession struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSession) Push(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.send(wsEnvelope{Type: "push_task", Data: data})
}

func (s *wsSession) send(env wsEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

func (s *wsSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// agentUpgrader holds the collaborators the agent session protocol
// drives once a connection identifies.
type agentUpgrader struct {
	agents    *agent.Registry
	tasks     *task.Queue
	endpoints *endpoint.Registry
}

func newAgentUpgrader(agents *agent.Registry, tasks *task.Queue, endpoints *endpoint.Registry) *agentUpgrader {
	return &agentUpgrader{agents: agents, tasks: tasks, endpoints: endpoints}
}

// identifyPayload mirrors the wire shape of §6's identify message.
// Token is accepted but not verified — token issuance is a separate
// subsystem outside this module's scope (§1's Non-goals); the hub
// trusts whatever agent_id arrives on an already-trusted transport.
type identifyPayload struct {
	ID              string             `json:"agent_id"`
	Token           string             `json:"token,omitempty"`
	Name            string             `json:"name"`
	Capabilities    []agent.Capability `json:"capabilities"`
	OllamaURL       string             `json:"ollama_url"`
	CloudAPICapable bool               `json:"cloud_api_capable"`
}

type taskAckPayload struct {
	TaskID     string `json:"task_id"`
	Generation int    `json:"generation"`
}

type taskResultPayload struct {
	TaskID     string         `json:"task_id"`
	Generation int            `json:"generation"`
	Result     map[string]any `json:"result"`
	TokensUsed int            `json:"tokens_used"`
}

type taskFailurePayload struct {
	TaskID     string `json:"task_id"`
	Generation int    `json:"generation"`
	Error      string `json:"error"`
}

// identifyErrorPayload mirrors §6's identify_error {reason}.
type identifyErrorPayload struct {
	Reason string `json:"reason"`
}

func identifyError(session *wsSession, reason string) {
	data, _ := json.Marshal(identifyErrorPayload{Reason: reason})
	_ = session.send(wsEnvelope{Type: "identify_error", Data: data})
}

// agentSessionHandler handles GET /ws: an agent's identify handshake
// followed by the accept/reject/complete/fail/ping protocol (§4.2).
func (s *Server) agentSessionHandler(c *gin.Context) {
	conn, err := agentUpgraderOpts.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("api: websocket upgrade failed", "error", err)
		return
	}
	session := &wsSession{conn: conn}
	defer conn.Close()

	id, ok := s.upgrader.awaitIdentify(session)
	if !ok {
		return
	}
	defer s.agents.Disconnect(id)

	s.upgrader.readLoop(id, session)
}

func (u *agentUpgrader) awaitIdentify(session *wsSession) (string, bool) {
	var env wsEnvelope
	if err := session.conn.ReadJSON(&env); err != nil {
		return "", false
	}
	if env.Type != "identify" {
		identifyError(session, "expected identify as the first message")
		return "", false
	}
	var payload identifyPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		identifyError(session, "malformed identify payload")
		return "", false
	}

	a := u.agents.Identify(agent.IdentifyParams{
		ID:              payload.ID,
		Name:            payload.Name,
		Capabilities:    payload.Capabilities,
		OllamaURL:       payload.OllamaURL,
		CloudAPICapable: payload.CloudAPICapable,
		Session:         session,
	})
	_ = session.send(wsEnvelope{Type: "identify_ok"})
	return a.ID, true
}

func (u *agentUpgrader) readLoop(id string, session *wsSession) {
	_ = session.conn.SetReadDeadline(time.Time{})
	for {
		var env wsEnvelope
		if err := session.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Info("api: agent session closed unexpectedly", "agent_id", id, "error", err)
			}
			return
		}
		u.dispatch(id, session, env)
	}
}

func (u *agentUpgrader) dispatch(id string, session *wsSession, env wsEnvelope) {
	switch env.Type {
	case "ping":
		u.agents.Touch(id)
		_ = session.send(wsEnvelope{Type: "pong"})

	case "resource_report":
		var snap endpoint.ResourceSnapshot
		if err := json.Unmarshal(env.Data, &snap); err == nil {
			if err := u.endpoints.UpdateResources(id, snap); err != nil {
				slog.Warn("api: resource_report failed", "agent_id", id, "error", err)
			}
		}

	case "task_accepted":
		var p taskAckPayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			if err := u.agents.TaskAccepted(id, p.TaskID, p.Generation); err != nil {
				slog.Warn("api: task_accepted rejected", "agent_id", id, "error", err)
			}
		}

	case "task_rejected":
		var p taskAckPayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			if err := u.agents.TaskRejected(id, p.TaskID); err != nil {
				slog.Warn("api: task_rejected failed", "agent_id", id, "error", err)
			}
		}

	case "task_complete":
		var p taskResultPayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			if _, err := u.tasks.Complete(p.TaskID, p.Generation, task.CompleteParams{Result: p.Result, TokensUsed: p.TokensUsed}); err != nil {
				slog.Warn("api: task completion failed", "agent_id", id, "task_id", p.TaskID, "error", err)
				return
			}
			if err := u.agents.TaskComplete(id, p.TaskID); err != nil {
				slog.Warn("api: agent completion ack failed", "agent_id", id, "error", err)
			}
		}

	case "task_failed":
		var p taskFailurePayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			if _, err := u.tasks.Fail(p.TaskID, p.Generation, p.Error); err != nil {
				slog.Warn("api: task failure report rejected", "agent_id", id, "task_id", p.TaskID, "error", err)
				return
			}
			if err := u.agents.TaskFailed(id, p.TaskID); err != nil {
				slog.Warn("api: agent failure ack failed", "agent_id", id, "error", err)
			}
		}

	default:
		slog.Warn("api: unknown agent session message type", "agent_id", id, "type", env.Type)
	}
}
