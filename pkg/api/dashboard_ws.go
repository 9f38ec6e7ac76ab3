package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/notno/agentcom-hub/pkg/events"
)

// dashboardPushInterval bounds how often a dashboard client is sent a
// fresh snapshot even when nothing fired on the bus — a minimum
// liveness heartbeat for clients that opened the socket mid-lull.
const dashboardPushInterval = 5 * time.Second

// dashboardTopics are the bus topics whose firing warrants pushing a
// fresh snapshot immediately rather than waiting for the next tick.
var dashboardTopics = []string{
	events.TopicHubStateChanged,
	events.TopicGoalStatusChanged,
	events.TopicTaskCompleted,
	events.TopicTaskDeadLetter,
	events.TopicAgentStatusChange,
	events.TopicEndpointChanged,
	events.TopicBudgetExhausted,
}

// dashboardWSHandler handles GET /ws/dashboard: a read-only push channel
// of dashboard.Snapshot, upgraded with coder/websocket per the domain
// stack's split between the agent session protocol (gorilla) and this
// lower-traffic observer channel.
func (s *Server) dashboardWSHandler(c *gin.Context) {
	if s.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "dashboard not available"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("api: dashboard websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()

	changed := make(chan struct{}, 1)
	var unsubscribes []func()
	for _, topic := range dashboardTopics {
		ch, unsubscribe := s.bus.Subscribe(topic)
		unsubscribes = append(unsubscribes, unsubscribe)
		go func(ch <-chan events.Envelope) {
			for range ch {
				select {
				case changed <- struct{}{}:
				default:
				}
			}
		}(ch)
	}
	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}()

	ticker := time.NewTicker(dashboardPushInterval)
	defer ticker.Stop()

	if err := pushSnapshot(ctx, conn, s.snapshots.Collect()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pushSnapshot(ctx, conn, s.snapshots.Collect()); err != nil {
				return
			}
		case <-changed:
			if err := pushSnapshot(ctx, conn, s.snapshots.Collect()); err != nil {
				return
			}
		}
	}
}

func pushSnapshot(ctx context.Context, conn *websocket.Conn, snap any) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
