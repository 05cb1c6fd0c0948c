// ABOUTME: Session scheduler enforcing single-flight invocation per queue key.
// ABOUTME: Queued requests drain FIFO; owners can cancel; disconnects purge everything.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/2389/hive-gateway/internal/agent"
	"github.com/2389/hive-gateway/internal/hooks"
	"github.com/2389/hive-gateway/internal/protocol"
	"github.com/2389/hive-gateway/internal/store"
)

// previewLimit bounds the session preview stored per request.
const previewLimit = 200

// mirrorClientTypes are the client classes that receive session-message
// mirrors for sessions they are not subscribed to.
var mirrorClientTypes = map[string]bool{
	"webui":   true,
	"desktop": true,
}

// pendingRequest is a request waiting behind an in-flight invocation on the
// same queue key.
type pendingRequest struct {
	requestID  string
	client     *Client
	payload    *protocol.AgentRequestPayload
	agentID    string
	sessionKey string
	queueKey   string
	enqueuedAt time.Time
}

// liveRequest is an in-flight invocation. cancel aborts it; the invocation
// goroutine finalizes and drains the queue when the stream ends.
type liveRequest struct {
	requestID  string
	queueKey   string
	sessionKey string
	agentID    string
	client     *Client
	ctx        context.Context
	cancel     context.CancelFunc
}

// scheduler serializes agent invocations per (agent id, session key) pair.
// At most one invocation per queue key runs at a time; the rest wait in FIFO
// order. All four maps are guarded by one mutex and kept mutually consistent.
type scheduler struct {
	gw     *Gateway
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*liveRequest      // queue key -> in-flight request
	queues map[string][]*pendingRequest // queue key -> FIFO backlog
	live   map[string]*liveRequest      // request id -> in-flight request
	queued map[string]*pendingRequest   // request id -> queued request
}

func newScheduler(gw *Gateway) *scheduler {
	return &scheduler{
		gw:     gw,
		logger: gw.logger.With("component", "scheduler"),
		active: make(map[string]*liveRequest),
		queues: make(map[string][]*pendingRequest),
		live:   make(map[string]*liveRequest),
		queued: make(map[string]*pendingRequest),
	}
}

// submit routes, records, and schedules one agent request. Protocol errors go
// back to the client as error envelopes; acceptance is acknowledged with a
// queued or dequeued ack before events start flowing.
func (s *scheduler) submit(c *Client, requestID string, p *protocol.AgentRequestPayload) {
	// An id already known to the scheduler and owned by this client is a
	// resubmit: the old request is aborted and evicted from every scheduler
	// structure before the new one is evaluated. The same id under another
	// owner is rejected.
	s.mu.Lock()
	if old, ok := s.live[requestID]; ok {
		if old.client != c {
			s.mu.Unlock()
			s.sendError(c, requestID, protocol.NewError(protocol.CodeForbidden, "request id belongs to another client"))
			return
		}
		old.cancel()
		delete(s.live, requestID)
		if s.active[old.queueKey] == old {
			delete(s.active, old.queueKey)
		}
	}
	if old, ok := s.queued[requestID]; ok {
		if old.client != c {
			s.mu.Unlock()
			s.sendError(c, requestID, protocol.NewError(protocol.CodeForbidden, "request id belongs to another client"))
			return
		}
		s.removeQueuedLocked(old)
		s.mu.Unlock()
		s.gw.metrics.QueueDepth.Dec()
	} else {
		s.mu.Unlock()
	}

	if p.Content == "" && len(p.Attachments) == 0 {
		s.sendError(c, requestID, protocol.NewError(protocol.CodeInvalidRequest, "request content is empty"))
		return
	}

	agentID := s.gw.router.SelectAgent(p.AgentID, p.Routing)
	if agentID == "" {
		s.gw.metrics.AgentRequests.WithLabelValues("refused").Inc()
		s.sendError(c, requestID, protocol.NewError(protocol.CodeInvalidRequest, "No agent matched"))
		return
	}

	sessionKey := p.SessionKey
	if sessionKey == "" {
		sessionKey = s.gw.router.BuildSessionKey(p.Routing)
	}
	queueKey := agent.QueueKey(agentID, sessionKey)

	s.recordMessage(c, sessionKey, agentID, p)

	s.mu.Lock()
	if _, busy := s.active[queueKey]; busy {
		if !p.ShouldQueue() {
			s.mu.Unlock()
			s.gw.metrics.AgentRequests.WithLabelValues("refused").Inc()
			ev := agentErrorEvent(sessionKey, agentID, "Session already has an in-flight request.")
			s.sendEvent(c, protocol.NewAgentEvent(requestID, ev))
			return
		}
		pending := &pendingRequest{
			requestID:  requestID,
			client:     c,
			payload:    p,
			agentID:    agentID,
			sessionKey: sessionKey,
			queueKey:   queueKey,
			enqueuedAt: time.Now(),
		}
		s.queues[queueKey] = append(s.queues[queueKey], pending)
		s.queued[requestID] = pending
		position := len(s.queues[queueKey])
		s.mu.Unlock()

		s.gw.metrics.AgentRequests.WithLabelValues("queued").Inc()
		s.gw.metrics.QueueDepth.Inc()
		s.sendAck(c, requestID, protocol.AckPayload{
			Action:    "agent",
			Status:    "queued",
			Position:  position,
			SessionID: sessionKey,
			RequestID: requestID,
		})
		s.sendEvent(c, protocol.NewAgentEvent(requestID, map[string]any{
			"type":      "request-queued",
			"sessionId": sessionKey,
			"agentId":   agentID,
			"requestId": requestID,
			"position":  position,
		}))
		return
	}

	lr := s.startLocked(c, requestID, queueKey, sessionKey, agentID)
	s.mu.Unlock()

	s.sendAck(c, requestID, protocol.AckPayload{
		Action:    "agent",
		Status:    "dequeued",
		SessionID: sessionKey,
		RequestID: requestID,
	})
	go s.run(lr, p)
}

// startLocked marks a request in flight. Caller holds the mutex.
func (s *scheduler) startLocked(c *Client, requestID, queueKey, sessionKey, agentID string) *liveRequest {
	ctx, cancel := context.WithCancel(context.Background())
	lr := &liveRequest{
		requestID:  requestID,
		queueKey:   queueKey,
		sessionKey: sessionKey,
		agentID:    agentID,
		client:     c,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.active[queueKey] = lr
	s.live[requestID] = lr
	return lr
}

// run drives one invocation to completion, forwarding the event stream, then
// finalizes and drains the queue key.
func (s *scheduler) run(lr *liveRequest, p *protocol.AgentRequestPayload) {
	defer s.finalize(lr)

	def, _ := s.gw.router.Get(lr.agentID)
	events, err := s.gw.invoker.Invoke(lr.ctx, agent.InvokeRequest{
		AgentID:     lr.agentID,
		Content:     p.Content,
		SessionKey:  lr.sessionKey,
		Attachments: p.Attachments,
		Workdir:     def.Workdir,
		OutputDir:   def.OutputDir,
	})
	if err != nil {
		s.logger.Warn("invocation failed to start",
			"request_id", lr.requestID, "agent_id", lr.agentID, "session_key", lr.sessionKey, "error", err)
		s.gw.metrics.AgentRequests.WithLabelValues("failed").Inc()
		ev := agentErrorEvent(lr.sessionKey, lr.agentID, err.Error())
		s.gw.deliverAgentEvent(lr.sessionKey, lr.client, protocol.NewAgentEvent(lr.requestID, json.RawMessage(ev)))
		return
	}

	sawError := false
	for ev := range events {
		wrapped, eventType := wrapAgentEvent(ev, lr.sessionKey, lr.agentID)
		if eventType == "agent-error" {
			sawError = true
		}
		s.gw.deliverAgentEvent(lr.sessionKey, lr.client, protocol.NewAgentEvent(lr.requestID, wrapped))
	}

	switch {
	case lr.ctx.Err() != nil:
		s.gw.metrics.AgentRequests.WithLabelValues("cancelled").Inc()
	case sawError:
		s.gw.metrics.AgentRequests.WithLabelValues("failed").Inc()
	default:
		s.gw.metrics.AgentRequests.WithLabelValues("completed").Inc()
		if err := s.gw.store.IncrementMessageCount(context.Background(), lr.sessionKey); err != nil {
			s.logger.Warn("message count update failed", "session_key", lr.sessionKey, "error", err)
		}
	}
}

// finalize releases the queue key and starts the next queued request, if any.
// Tolerant of entries already evicted by a resubmit: only the exact live
// record is removed.
func (s *scheduler) finalize(lr *liveRequest) {
	lr.cancel()

	s.mu.Lock()
	if s.live[lr.requestID] == lr {
		delete(s.live, lr.requestID)
	}
	if s.active[lr.queueKey] != lr {
		s.mu.Unlock()
		return
	}
	delete(s.active, lr.queueKey)

	queue := s.queues[lr.queueKey]
	if len(queue) == 0 {
		delete(s.queues, lr.queueKey)
		s.mu.Unlock()
		return
	}
	next := queue[0]
	s.queues[lr.queueKey] = queue[1:]
	delete(s.queued, next.requestID)
	remaining := len(s.queues[lr.queueKey])
	nextLive := s.startLocked(next.client, next.requestID, next.queueKey, next.sessionKey, next.agentID)
	s.mu.Unlock()

	s.gw.metrics.QueueDepth.Dec()
	s.sendAck(next.client, next.requestID, protocol.AckPayload{
		Action:    "agent",
		Status:    "dequeued",
		Remaining: &remaining,
		SessionID: next.sessionKey,
		RequestID: next.requestID,
	})
	go s.run(nextLive, next.payload)
}

// cancelRequest aborts an in-flight or queued request on behalf of its owner.
// Cancelling another client's request is forbidden; cancelling an unknown id
// is acknowledged with not_found rather than treated as an error.
func (s *scheduler) cancelRequest(c *Client, envID, requestID string) {
	s.mu.Lock()
	if lr, ok := s.live[requestID]; ok {
		if lr.client != c {
			s.mu.Unlock()
			s.sendError(c, envID, protocol.NewError(protocol.CodeForbidden, "cannot cancel another client's request"))
			return
		}
		lr.cancel()
		delete(s.live, requestID)
		s.mu.Unlock()
		s.sendAck(c, envID, protocol.AckPayload{Action: "cancel", Status: "cancelled", RequestID: requestID})
		return
	}
	if pending, ok := s.queued[requestID]; ok {
		if pending.client != c {
			s.mu.Unlock()
			s.sendError(c, envID, protocol.NewError(protocol.CodeForbidden, "cannot cancel another client's request"))
			return
		}
		s.removeQueuedLocked(pending)
		s.mu.Unlock()
		s.gw.metrics.QueueDepth.Dec()
		s.sendAck(c, envID, protocol.AckPayload{Action: "cancel", Status: "cancelled_queued", RequestID: requestID})
		return
	}
	s.mu.Unlock()
	s.sendAck(c, envID, protocol.AckPayload{Action: "cancel", Status: "not_found", RequestID: requestID})
}

// handleDisconnect purges every outstanding request owned by the client.
// In-flight invocations are aborted; their goroutines finalize and drain as
// usual. Queued entries are dropped in place.
func (s *scheduler) handleDisconnect(c *Client) {
	s.mu.Lock()
	var cancels []context.CancelFunc
	for _, lr := range s.live {
		if lr.client == c {
			cancels = append(cancels, lr.cancel)
		}
	}
	purged := 0
	for id, pending := range s.queued {
		if pending.client != c {
			continue
		}
		delete(s.queued, id)
		queue := s.queues[pending.queueKey]
		for i, p := range queue {
			if p == pending {
				s.queues[pending.queueKey] = append(queue[:i], queue[i+1:]...)
				break
			}
		}
		if len(s.queues[pending.queueKey]) == 0 {
			delete(s.queues, pending.queueKey)
		}
		purged++
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for i := 0; i < purged; i++ {
		s.gw.metrics.QueueDepth.Dec()
	}
	if len(cancels) > 0 || purged > 0 {
		s.logger.Info("disconnect purged outstanding work",
			"conn_id", c.ConnID, "aborted", len(cancels), "dropped_queued", purged)
	}
}

// removeQueuedLocked drops a pending request from its queue and the id index.
// Caller holds the mutex.
func (s *scheduler) removeQueuedLocked(pending *pendingRequest) {
	delete(s.queued, pending.requestID)
	queue := s.queues[pending.queueKey]
	for i, p := range queue {
		if p == pending {
			s.queues[pending.queueKey] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(s.queues[pending.queueKey]) == 0 {
		delete(s.queues, pending.queueKey)
	}
}

// counts returns the number of in-flight and queued requests.
func (s *scheduler) counts() (active, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active), len(s.queued)
}

// recordMessage persists the request against its session and mirrors it to
// observer clients. Store failures are logged, never fatal to the request.
func (s *scheduler) recordMessage(c *Client, sessionKey, agentID string, p *protocol.AgentRequestPayload) {
	ctx := context.Background()

	_, err := s.gw.store.GetSession(ctx, sessionKey)
	created := errors.Is(err, store.ErrNotFound)

	if _, err := s.gw.store.GetOrCreateSession(ctx, sessionKey, agentID); err != nil {
		s.logger.Warn("session upsert failed", "session_key", sessionKey, "error", err)
	}
	preview := truncatePreview(p.Content)
	if err := s.gw.store.UpdateSession(ctx, sessionKey, store.SessionUpdate{LastMessagePreview: &preview}); err != nil {
		s.logger.Warn("session preview update failed", "session_key", sessionKey, "error", err)
	}

	if created {
		s.gw.hooks.Emit(hooks.EventSessionStart, hooks.Payload{
			SessionKey: sessionKey,
			AgentID:    agentID,
			ClientType: c.ClientType(),
		})
	}
	s.gw.hooks.Emit(hooks.EventMessageReceived, hooks.Payload{
		SessionKey: sessionKey,
		AgentID:    agentID,
		ClientType: c.ClientType(),
	})

	// Mirror the inbound message to subscribers and observer clients so other
	// surfaces see the conversation advance.
	mirror := protocol.NewEnvelope(protocol.TypeAgentEvent, "", map[string]any{
		"type":      "session-message",
		"sessionId": sessionKey,
		"agentId":   agentID,
		"content":   preview,
	})
	s.gw.broadcastSessionEvent(sessionKey, mirror, c)
	s.gw.broadcastToClients(mirror, fanoutOptions{
		exclude:       c,
		clientTypes:   mirrorClientTypes,
		skipSessionID: sessionKey,
	})
}

// truncatePreview bounds the stored preview without splitting a UTF-8 rune.
func truncatePreview(content string) string {
	if len(content) <= previewLimit {
		return content
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

func (s *scheduler) sendAck(c *Client, id string, payload protocol.AckPayload) {
	if err := c.Send(protocol.NewAck(id, payload)); err != nil {
		s.logger.Debug("ack dropped", "conn_id", c.ConnID, "request_id", id, "error", err)
	}
}

func (s *scheduler) sendError(c *Client, id string, perr *protocol.Error) {
	if err := c.Send(protocol.NewErrorEnvelope(id, perr)); err != nil {
		s.logger.Debug("error envelope dropped", "conn_id", c.ConnID, "request_id", id, "error", err)
	}
}

func (s *scheduler) sendEvent(c *Client, env *protocol.Envelope) {
	if err := c.Send(env); err != nil {
		s.logger.Debug("agent event dropped", "conn_id", c.ConnID, "error", err)
	}
}
