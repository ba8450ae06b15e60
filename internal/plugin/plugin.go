// Package plugin defines the typed interface every game implements to
// plug into the connection/room substrate, plus the registry that owns
// plugin instances and isolates their message dispatch by namespace.
//
// The source this is generalized from keeps a dynamic, string-keyed
// handler table per room; here every plugin instead declares a typed
// Handlers() map up front, and the opaque per-plugin state
// (Room.GameState.Data, Player.GameData) is only ever touched by the
// plugin that owns it, never by the substrate.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
)

// Connection is the minimal view of a transport connection a plugin
// handler needs: its stable connection id, used to look up the calling
// player within a room.
type Connection interface {
	ConnectionID() string
}

// Helpers is the set of substrate operations a plugin may invoke. It is
// implemented by the connection hub; plugins depend only on this
// interface, never on the hub's concrete type. Neither package imports
// the other: the hub satisfies this interface structurally.
type Helpers interface {
	// SendToRoom enqueues a throttled broadcast to every connection in
	// roomCode (see the hub's broadcast-coalescing window).
	SendToRoom(roomCode, event string, payload any)

	// SendToRoomImmediate bypasses the broadcast-coalescing window, used
	// for events that must preserve input responsiveness (e.g. the
	// TickEngine's own turn destinations).
	SendToRoomImmediate(roomCode, event string, payload any)

	// SendToConnection sends directly to one connection, unthrottled.
	SendToConnection(connectionID, event string, payload any)

	// SendError reports a client-caused error back to the originator only.
	SendError(connectionID, message, code string)
}

// Handler processes one inbound event for a plugin's namespace. room is
// already resolved by the LifecycleCoordinator (by connection id, falling
// back to payload.roomCode); conn identifies the caller.
type Handler func(ctx context.Context, conn Connection, payload json.RawMessage, room *roomregistry.Room, helpers Helpers) error

// Plugin is a registered game. Plugins are trusted code: the registry
// isolates their message dispatch by namespace but does not sandbox them.
type Plugin interface {
	// ID is the plugin's stable game id, used for lookup and routing.
	ID() string

	// Namespace is the routing prefix for this plugin's events, e.g.
	// "lightcycles". Must be unique across registered plugins.
	Namespace() string

	// DefaultSettings returns the plugin-specific default settings bag.
	// The substrate does not call it: a freshly created room's
	// Settings.Data is whatever room:create supplied.
	DefaultSettings() json.RawMessage

	// Handlers returns this plugin's event name -> Handler map.
	Handlers() map[string]Handler

	// OnInitialize is invoked once at registration time with the hub's
	// Helpers, before any room using this plugin can be created.
	OnInitialize(helpers Helpers) error

	// OnCleanup is invoked once at process shutdown.
	OnCleanup()

	// OnRoomCreate is invoked synchronously after RoomRegistry.CreateRoom.
	OnRoomCreate(room *roomregistry.Room)

	// OnPlayerJoin is invoked after a player is added or reconnected.
	OnPlayerJoin(room *roomregistry.Room, player *roomregistry.Player, reconnecting bool)

	// OnPlayerDisconnected is invoked when a non-host player's connection
	// drops, before the 60s grace timer is armed.
	OnPlayerDisconnected(room *roomregistry.Room, player *roomregistry.Player)

	// OnPlayerLeave is invoked when a player is permanently removed
	// (grace expiry or explicit leave). Host disconnect teardown calls
	// OnHostLeave instead.
	OnPlayerLeave(room *roomregistry.Room, player *roomregistry.Player)

	// OnHostLeave is invoked when the host disconnects, after the room has
	// been destroyed and its sessions and multicast group removed.
	OnHostLeave(room *roomregistry.Room)

	// SerializeRoom renders room from perspectiveConnectionID's point of
	// view. Called once per recipient for any broadcast carrying full room
	// state, so each client sees only what its own connection should.
	SerializeRoom(room *roomregistry.Room, perspectiveConnectionID string) (any, error)
}

// BaseLifecycle supplies no-op implementations of every lifecycle hook.
// Plugins that don't need a particular hook embed BaseLifecycle and
// override only what they use, matching the pattern in the non-tick
// scaffolding (component K) where most hooks are irrelevant.
type BaseLifecycle struct{}

func (BaseLifecycle) OnInitialize(Helpers) error                                    { return nil }
func (BaseLifecycle) OnCleanup()                                                    {}
func (BaseLifecycle) OnRoomCreate(*roomregistry.Room)                               {}
func (BaseLifecycle) OnPlayerJoin(*roomregistry.Room, *roomregistry.Player, bool)   {}
func (BaseLifecycle) OnPlayerDisconnected(*roomregistry.Room, *roomregistry.Player) {}
func (BaseLifecycle) OnPlayerLeave(*roomregistry.Room, *roomregistry.Player)        {}
func (BaseLifecycle) OnHostLeave(*roomregistry.Room)                                {}

// Registry owns registered plugins, keyed by id, and enforces namespace
// uniqueness across them.
type Registry struct {
	mu         sync.RWMutex
	plugins    map[string]Plugin
	namespaces map[string]string // namespace -> plugin id
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins:    make(map[string]Plugin),
		namespaces: make(map[string]string),
	}
}

// Register validates that p's id and namespace are unique, invokes
// OnInitialize, and stores it.
func (r *Registry) Register(p Plugin, helpers Helpers) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.ID()]; exists {
		return fmt.Errorf("plugin id %q already registered", p.ID())
	}
	if owner, exists := r.namespaces[p.Namespace()]; exists {
		return fmt.Errorf("namespace %q already owned by plugin %q", p.Namespace(), owner)
	}

	if err := p.OnInitialize(helpers); err != nil {
		return fmt.Errorf("plugin %q failed to initialize: %w", p.ID(), err)
	}

	r.plugins[p.ID()] = p
	r.namespaces[p.Namespace()] = p.ID()
	return nil
}

// Get returns the plugin registered under id, or nil.
func (r *Registry) Get(id string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[id]
}

// IDs returns every registered plugin id.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns a snapshot of plugin id -> namespace, for the admin surface.
func (r *Registry) Stats() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.plugins))
	for id, p := range r.plugins {
		out[id] = p.Namespace()
	}
	return out
}

// Destroy invokes OnCleanup on every registered plugin.
func (r *Registry) Destroy() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		p.OnCleanup()
	}
}
