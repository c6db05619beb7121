package transport_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/fake"
	"github.com/momentics/m2relay/internal/transport"
)

func newRegistry(t *testing.T, opts ...transport.RegistryOption) (*transport.Registry, *fake.Factory, *fake.Reactor, *[]string) {
	t.Helper()
	f := fake.NewFactory()
	r := fake.NewReactor()
	var readable []string
	reg := transport.NewRegistry(f, r, func(c *transport.Connection) {
		readable = append(readable, c.Sender)
		_, _ = c.Inbound().Recv()
	}, opts...)
	return reg, f, r, &readable
}

func TestRegistryAddResolveRemove(t *testing.T) {
	reg, f, r, readable := newRegistry(t)

	c, err := reg.Add("peer-a", "tcp://10.0.0.1:9999", "tcp://10.0.0.1:9998")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Seq)
	assert.Equal(t, 1, r.Registered())

	in := f.ByEndpoint(api.SocketPull, "tcp://10.0.0.1:9999")
	out := f.ByEndpoint(api.SocketPub, "tcp://10.0.0.1:9998")
	require.NotNil(t, in)
	require.NotNil(t, out)

	got, ok := reg.Resolve("peer-a")
	require.True(t, ok)
	assert.Same(t, c, got)

	// Inbound socket is eligible for polling right away.
	in.Push([]byte("msg"))
	n, err := r.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"peer-a"}, *readable)

	require.NoError(t, reg.Remove("peer-a"))
	_, ok = reg.Resolve("peer-a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Registered())
	assert.True(t, in.Closed())
	assert.True(t, out.Closed())
}

func TestRegistryDuplicateSender(t *testing.T) {
	reg, _, r, _ := newRegistry(t)

	_, err := reg.Add("dup", "tcp://a:1", "tcp://a:2")
	require.NoError(t, err)

	_, err = reg.Add("dup", "tcp://b:1", "tcp://b:2")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrDuplicateSender)
	assert.Equal(t, api.ErrCodeDuplicateSender, api.CodeOf(err))

	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, r.Registered())
	c, _ := reg.Resolve("dup")
	assert.Equal(t, "tcp://a:1", c.InboundAddr)
}

func TestRegistryRemoveUnknown(t *testing.T) {
	reg, _, _, _ := newRegistry(t)
	err := reg.Remove("ghost")
	assert.ErrorIs(t, err, api.ErrUnknownSender)
}

func TestRegistryAddConnectFailureReleasesSockets(t *testing.T) {
	reg, f, r, _ := newRegistry(t)
	f.ConnectErrs["tcp://bad:2"] = errors.New("no route to host")

	_, err := reg.Add("peer", "tcp://good:1", "tcp://bad:2")
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, r.Registered())
	for _, s := range f.Sockets() {
		assert.True(t, s.Closed())
	}
}

func TestRegistrySocketsAreNonBlocking(t *testing.T) {
	reg, f, _, _ := newRegistry(t)
	_, err := reg.Add("peer", "tcp://h:1", "tcp://h:2")
	require.NoError(t, err)
	for _, s := range f.Sockets() {
		recv, send := s.Timeouts()
		assert.Zero(t, recv)
		assert.Zero(t, send)
	}
}

func TestRegistrySendersAndCloseAll(t *testing.T) {
	reg, _, r, _ := newRegistry(t)
	for _, s := range []string{"c", "a", "b"} {
		_, err := reg.Add(s, "tcp://"+s+":1", "tcp://"+s+":2")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, reg.Senders())

	require.NoError(t, reg.CloseAll())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, r.Registered())
}
