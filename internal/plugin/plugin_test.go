package plugin

import (
	"encoding/json"
	"testing"

	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
	"github.com/stretchr/testify/require"
)

type stubHelpers struct{}

func (stubHelpers) SendToRoom(string, string, any)          {}
func (stubHelpers) SendToRoomImmediate(string, string, any) {}
func (stubHelpers) SendToConnection(string, string, any)    {}
func (stubHelpers) SendError(string, string, string)        {}

type stubPlugin struct {
	BaseLifecycle
	id, ns string
}

func (s *stubPlugin) ID() string                       { return s.id }
func (s *stubPlugin) Namespace() string                { return s.ns }
func (s *stubPlugin) DefaultSettings() json.RawMessage { return nil }
func (s *stubPlugin) Handlers() map[string]Handler     { return nil }
func (s *stubPlugin) SerializeRoom(*roomregistry.Room, string) (any, error) {
	return nil, nil
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubPlugin{id: "a", ns: "a"}, stubHelpers{}))
	err := reg.Register(&stubPlugin{id: "a", ns: "b"}, stubHelpers{})
	require.Error(t, err)
}

func TestRegisterRejectsDuplicateNamespace(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubPlugin{id: "a", ns: "shared"}, stubHelpers{}))
	err := reg.Register(&stubPlugin{id: "b", ns: "shared"}, stubHelpers{})
	require.Error(t, err)
}

func TestGetAndIDsAndStats(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubPlugin{id: "a", ns: "ns-a"}, stubHelpers{}))

	require.NotNil(t, reg.Get("a"))
	require.Nil(t, reg.Get("missing"))
	require.ElementsMatch(t, []string{"a"}, reg.IDs())
	require.Equal(t, map[string]string{"a": "ns-a"}, reg.Stats())
}
