package relay

import (
	"context"
	"errors"
	"log"

	"github.com/prompt-enhancer/bridge/internal/conn"
	"github.com/prompt-enhancer/bridge/internal/enhancer"
	"github.com/prompt-enhancer/bridge/internal/fanout"
	"github.com/prompt-enhancer/bridge/internal/model"
	"github.com/prompt-enhancer/bridge/internal/registry"
)

// ResultStore reads persisted node results. The sqlite repository implements
// it; a nil store disables the fallback.
type ResultStore interface {
	GetNodeResult(ctx context.Context, sessionID, nodeName string) ([]byte, error)
}

// Dispatcher is the privileged-side request handler. It alone performs
// network calls: it ensures the session's event-stream connection is live,
// invokes the enhancer backend, and answers registry queries. Every internal
// error is converted to an error envelope at this boundary; nothing
// propagates to the isolated context as a fault.
type Dispatcher struct {
	registry *registry.Registry
	conns    *conn.Manager
	enhancer *enhancer.Client
	events   *fanout.Broadcaster
	results  ResultStore
}

// NewDispatcher creates a dispatcher. events must be the same broadcaster the
// connection manager publishes to, so bridges can forward pushes. results may
// be nil when persistence is disabled.
func NewDispatcher(reg *registry.Registry, conns *conn.Manager, enh *enhancer.Client, events *fanout.Broadcaster, results ResultStore) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		conns:    conns,
		enhancer: enh,
		events:   events,
		results:  results,
	}
}

// Events returns the push broadcaster shared with the connection manager.
func (d *Dispatcher) Events() *fanout.Broadcaster {
	return d.events
}

// Handle processes one request envelope and returns the response envelope.
// The envelope set is closed and matched exhaustively; response and push
// types are not requests, so receiving one here returns ok=false and the
// envelope is dropped.
func (d *Dispatcher) Handle(ctx context.Context, env model.Envelope) (model.Envelope, bool) {
	switch env.Type {
	case model.TypeEnhancePrompt:
		return d.handleEnhance(ctx, env), true
	case model.TypeCheckSocketStatus:
		return d.handleStatus(env), true
	case model.TypeGetNodeData:
		return d.handleNodeData(ctx, env), true
	case model.TypeEnhanceResponse, model.TypeEnhanceError,
		model.TypeSocketStatusResponse, model.TypeSocketStatusError,
		model.TypeNodeDataResponse, model.TypeNodeDataError,
		model.TypeNodeCompleted, model.TypeSocketConnected, model.TypeSocketDisconnected:
		log.Printf("Dropping non-request envelope %s received as request", env.Type)
		return model.Envelope{}, false
	}
	log.Printf("Dropping envelope with unknown type %q", env.Type)
	return model.Envelope{}, false
}

func (d *Dispatcher) handleEnhance(ctx context.Context, env model.Envelope) model.Envelope {
	if env.Prompt == "" {
		return model.Envelope{
			Type:      model.TypeEnhanceError,
			SessionID: env.SessionID,
			Error:     model.ErrPromptRequired.Error(),
		}
	}
	if env.SessionID == "" {
		return model.Envelope{
			Type:  model.TypeEnhanceError,
			Error: model.ErrSessionRequired.Error(),
		}
	}

	d.registry.Upsert(env.SessionID)
	d.registry.Touch(env.SessionID)

	// Connect the event stream before calling the API so intermediate node
	// events are not lost. A failed connect is not fatal to the call; the
	// UI observes connectivity only through the connected flag.
	if !d.conns.Connect(ctx, env.SessionID) {
		log.Printf("Event stream unavailable for session %s, proceeding without it", env.SessionID)
	}

	data, err := d.enhancer.Enhance(ctx, env.Prompt, env.SessionID)
	if err != nil {
		return model.Envelope{
			Type:      model.TypeEnhanceError,
			SessionID: env.SessionID,
			Error:     err.Error(),
		}
	}

	return model.Envelope{
		Type:      model.TypeEnhanceResponse,
		SessionID: env.SessionID,
		Data:      data,
	}
}

func (d *Dispatcher) handleStatus(env model.Envelope) model.Envelope {
	s, ok := d.registry.Get(env.SessionID)
	if !ok {
		return model.Envelope{
			Type:      model.TypeSocketStatusError,
			SessionID: env.SessionID,
			Error:     model.ErrSessionNotFound.Error(),
		}
	}
	d.registry.Touch(env.SessionID)

	last := s.LastActivity
	return model.Envelope{
		Type:         model.TypeSocketStatusResponse,
		SessionID:    env.SessionID,
		Connected:    s.Connected,
		LastActivity: &last,
	}
}

func (d *Dispatcher) handleNodeData(ctx context.Context, env model.Envelope) model.Envelope {
	data, ok := d.registry.NodeResult(env.SessionID, env.NodeName)
	if !ok && d.results != nil {
		// Same fallback as the REST surface: results outlive eviction and
		// restarts in the persistent store.
		stored, err := d.results.GetNodeResult(ctx, env.SessionID, env.NodeName)
		if err == nil {
			data, ok = stored, true
		} else if !errors.Is(err, model.ErrNodeDataNotFound) {
			log.Printf("Failed to load node result %s/%s: %v", env.SessionID, env.NodeName, err)
		}
	}
	if !ok {
		return model.Envelope{
			Type:      model.TypeNodeDataError,
			SessionID: env.SessionID,
			NodeName:  env.NodeName,
			Error:     model.ErrNodeDataNotFound.Error(),
		}
	}
	d.registry.Touch(env.SessionID)

	return model.Envelope{
		Type:      model.TypeNodeDataResponse,
		SessionID: env.SessionID,
		NodeName:  env.NodeName,
		Data:      data,
	}
}

// Disconnect closes the session's connection and removes it from the
// registry. Exposed for the REST surface.
func (d *Dispatcher) Disconnect(sessionID string) {
	d.conns.Disconnect(sessionID)
}
