package client_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/client"
	"github.com/momentics/m2relay/core/protocol"
	"github.com/momentics/m2relay/core/wire"
	"github.com/momentics/m2relay/fake"
)

const (
	pushAddr    = "tcp://*:7001"
	subAddr     = "tcp://*:7002"
	controlAddr = "tcp://relay:7003"
)

// fakeRelay answers control requests the way a relay does and publishes
// broadcast tokens on the peer's SUB socket.
type fakeRelay struct {
	f        *fake.Factory
	known    bool
	silent   bool
	commands []string

	// dropTokens broadcasts are answered without publishing the token.
	dropTokens int
	broadcasts int
}

func newFakeRelay() *fakeRelay {
	r := &fakeRelay{f: fake.NewFactory()}
	r.f.Prepare = func(s *fake.Socket) {
		if s.Type() == api.SocketReq {
			s.OnSend = r.onControl
		}
	}
	return r
}

func (r *fakeRelay) onControl(s *fake.Socket, data []byte) {
	r.commands = append(r.commands, string(data))
	if r.silent {
		return
	}
	cmd, err := wire.ParseCommand(string(data))
	if err != nil {
		s.Push([]byte("error: malformed command"))
		return
	}
	sender, _ := cmd.Arg("sender")
	var reply string
	switch cmd.Name {
	case "ping":
		reply = "PONG"
	case "setup":
		if r.known {
			reply = "error: duplicate sender " + sender
			break
		}
		r.known = true
		reply = "connected"
	case "remove_connection":
		if !r.known {
			reply = "error: unknown sender " + sender
			break
		}
		r.known = false
		reply = "received"
	case "broadcast":
		if !r.known {
			reply = "no sender"
			break
		}
		r.broadcasts++
		if r.broadcasts > r.dropTokens {
			token, _ := cmd.Arg("ping")
			r.f.ByEndpoint(api.SocketSub, subAddr).Push([]byte(sender + " " + token))
		}
		reply = "pinged"
	default:
		reply = "unknown command: " + cmd.Name
	}
	s.Push([]byte(reply))
}

func newPeer(t *testing.T, f *fake.Factory) *client.Peer {
	t.Helper()
	cfg := client.Config{
		Sender:        "backend",
		PushAddr:      pushAddr,
		SubAddr:       subAddr,
		AdvertisePush: "tcp://backend:7001",
		AdvertiseSub:  "tcp://backend:7002",
		Timeout:       50 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
	p, err := client.NewPeer(cfg,
		client.WithSocketFactory(f),
		client.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewPeerBindsAndSubscribes(t *testing.T) {
	f := fake.NewFactory()
	newPeer(t, f)

	push := f.ByEndpoint(api.SocketPush, pushAddr)
	sub := f.ByEndpoint(api.SocketSub, subAddr)
	require.NotNil(t, push)
	require.NotNil(t, sub)
	assert.Equal(t, []string{"backend"}, sub.Subscriptions())

	recv, send := sub.Timeouts()
	assert.Equal(t, 5*time.Millisecond, recv)
	assert.Equal(t, 50*time.Millisecond, send)
}

func TestNewPeerBindFailure(t *testing.T) {
	f := fake.NewFactory()
	f.ConnectErrs[subAddr] = assert.AnError

	_, err := client.NewPeer(client.Config{PushAddr: pushAddr, SubAddr: subAddr}, client.WithSocketFactory(f))
	require.ErrorIs(t, err, assert.AnError)
	assert.True(t, f.ByEndpoint(api.SocketPush, pushAddr).Closed())
	assert.True(t, f.Closed())
}

func TestDefaultConfig(t *testing.T) {
	cfg := client.DefaultConfig()
	assert.NotEmpty(t, cfg.Sender)
	assert.Equal(t, client.DefaultPushAddr, cfg.PushAddr)
	assert.Equal(t, client.DefaultSubAddr, cfg.SubAddr)
	assert.Equal(t, time.Second, cfg.Timeout)
}

func TestConnectSetsUpAndVerifies(t *testing.T) {
	r := newFakeRelay()
	p := newPeer(t, r.f)

	c, err := p.Connect(testCtx(t), controlAddr)
	require.NoError(t, err)
	assert.Equal(t, controlAddr, c.Addr())
	assert.Equal(t, []string{controlAddr}, p.Relays())
	require.NotEmpty(t, r.commands)
	assert.Equal(t, "setup(sender=backend,push=tcp://backend:7001,sub=tcp://backend:7002)", r.commands[0])
	assert.Contains(t, r.commands[1], "broadcast(sender=backend,ping=")
	assert.Equal(t, 1, r.broadcasts)

	require.NoError(t, c.Ping())
}

func TestConnectRetriesLostBroadcasts(t *testing.T) {
	r := newFakeRelay()
	r.dropTokens = 2
	p := newPeer(t, r.f)

	_, err := p.Connect(testCtx(t), controlAddr)
	require.NoError(t, err)
	assert.Equal(t, 3, r.broadcasts)
}

func TestConnectVerifyTimeout(t *testing.T) {
	r := newFakeRelay()
	r.dropTokens = 1 << 30
	p := newPeer(t, r.f)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Connect(ctx, controlAddr)
	require.ErrorIs(t, err, api.ErrConnectTimeout)
	assert.Empty(t, p.Relays())
}

func TestConnectSilentRelay(t *testing.T) {
	r := newFakeRelay()
	r.silent = true
	p := newPeer(t, r.f)

	_, err := p.Connect(testCtx(t), controlAddr)
	require.ErrorIs(t, err, api.ErrConnectTimeout)
	assert.Equal(t, api.ErrCodeTimeout, api.CodeOf(err))
	req := r.f.ByEndpoint(api.SocketReq, controlAddr)
	require.NotNil(t, req)
	assert.True(t, req.Closed())
}

func TestConnectDuplicateSender(t *testing.T) {
	r := newFakeRelay()
	r.known = true
	p := newPeer(t, r.f)

	_, err := p.Connect(testCtx(t), controlAddr)
	require.ErrorIs(t, err, api.ErrDuplicateSender)
	assert.Empty(t, p.Relays())
}

func TestConnectTwiceToSameRelay(t *testing.T) {
	r := newFakeRelay()
	p := newPeer(t, r.f)

	_, err := p.Connect(testCtx(t), controlAddr)
	require.NoError(t, err)
	_, err = p.Connect(testCtx(t), controlAddr)
	require.ErrorIs(t, err, api.ErrDuplicateSender)
}

func TestDisconnect(t *testing.T) {
	r := newFakeRelay()
	p := newPeer(t, r.f)

	_, err := p.Connect(testCtx(t), controlAddr)
	require.NoError(t, err)
	require.NoError(t, p.Disconnect(testCtx(t), controlAddr))

	assert.Empty(t, p.Relays())
	assert.False(t, r.known)
	assert.Contains(t, r.commands, "remove_connection(sender=backend)")
	assert.True(t, r.f.ByEndpoint(api.SocketReq, controlAddr).Closed())

	err = p.Disconnect(testCtx(t), controlAddr)
	require.ErrorIs(t, err, api.ErrUnknownSender)
}

func TestRemoveUnknownSender(t *testing.T) {
	r := newFakeRelay()
	p := newPeer(t, r.f)

	c, err := p.Dial(controlAddr)
	require.NoError(t, err)
	defer c.Close()
	require.ErrorIs(t, c.Remove(), api.ErrUnknownSender)
}

func TestConnectorReopensAfterTimeout(t *testing.T) {
	r := newFakeRelay()
	r.silent = true
	p := newPeer(t, r.f)

	c, err := p.Dial(controlAddr)
	require.NoError(t, err)
	defer c.Close()
	require.ErrorIs(t, c.Ping(), api.ErrConnectTimeout)

	r.silent = false
	require.NoError(t, c.Ping())
	reqs := 0
	for _, s := range r.f.Sockets() {
		if s.Type() == api.SocketReq {
			reqs++
		}
	}
	assert.Equal(t, 2, reqs)
}

func TestClientConnIDs(t *testing.T) {
	p := newPeer(t, fake.NewFactory())
	assert.Equal(t, "1", p.NewClient().ConnID())
	assert.Equal(t, "2", p.NewClient().ConnID())
}

func TestClientGetEncodesRequest(t *testing.T) {
	f := fake.NewFactory()
	p := newPeer(t, f)
	c := p.NewClient()

	require.NoError(t, c.Get("/hello", url.Values{"name": {"x"}}))

	sent := f.ByEndpoint(api.SocketPush, pushAddr).Sent()
	require.Len(t, sent, 1)
	req, err := wire.DecodeRequest(sent[0])
	require.NoError(t, err)
	assert.Equal(t, "backend", req.Sender)
	assert.Equal(t, c.ConnID(), req.ConnID)
	assert.Equal(t, "/hello", req.Path)
	assert.Equal(t, "GET", req.Method())
	assert.Equal(t, "/hello?name=x", req.Header(api.HeaderURI))
	assert.Equal(t, "name=x", req.Header(api.HeaderQuery))
	assert.Equal(t, "127.0.0.1", req.Header(api.HeaderRemoteAddr))
	assert.Equal(t, "x", req.Query["name"])
}

func TestClientSendWouldBlock(t *testing.T) {
	f := fake.NewFactory()
	p := newPeer(t, f)
	f.ByEndpoint(api.SocketPush, pushAddr).BlockSends = 1

	err := p.NewClient().Get("/", nil)
	require.ErrorIs(t, err, api.ErrConnectTimeout)
}

func TestClientRecvFiltersConnID(t *testing.T) {
	f := fake.NewFactory()
	p := newPeer(t, f)
	first, second := p.NewClient(), p.NewClient()
	require.NoError(t, first.Get("/a", nil))

	sub := f.ByEndpoint(api.SocketSub, subAddr)
	sub.Push([]byte("backend token"))
	sub.Push(wire.EncodeReply("backend", []string{second.ConnID()}, wire.HTTPResponse(200, []byte("second"))))
	sub.Push(wire.EncodeReply("backend", []string{first.ConnID()}, wire.HTTPResponse(200, []byte("first"))))

	resp, err := first.Recv(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, client.KindHTTP, resp.Kind)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "first", string(resp.Body))
}

func TestClientRecvTimeout(t *testing.T) {
	p := newPeer(t, fake.NewFactory())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.NewClient().Recv(ctx)
	require.ErrorIs(t, err, api.ErrConnectTimeout)
}

// upgradingBackend answers handshakes and echoes frames back, as a relay
// with an echo handler would.
func upgradingBackend(t *testing.T, f *fake.Factory) {
	sub := f.ByEndpoint(api.SocketSub, subAddr)
	f.ByEndpoint(api.SocketPush, pushAddr).OnSend = func(_ *fake.Socket, data []byte) {
		req, err := wire.DecodeRequest(data)
		require.NoError(t, err)
		var body []byte
		if req.Method() == api.MethodHandshake {
			body, err = protocol.HandshakeReply(req.Headers, "")
		} else {
			body, err = protocol.EncodeFrame(protocol.OpcodeText, req.Body)
		}
		require.NoError(t, err)
		sub.Push(wire.EncodeReply(req.Sender, []string{req.ConnID}, body))
	}
}

func TestClientHandshakeAndFrames(t *testing.T) {
	f := fake.NewFactory()
	p := newPeer(t, f)
	upgradingBackend(t, f)
	c := p.NewClient()

	require.NoError(t, c.Handshake(testCtx(t), "/ws"))
	require.NoError(t, c.SendFrame("/ws", protocol.OpcodeText, []byte("hi")))

	sent := f.ByEndpoint(api.SocketPush, pushAddr).Sent()
	require.Len(t, sent, 2)
	req, err := wire.DecodeRequest(sent[1])
	require.NoError(t, err)
	assert.Equal(t, "0x81", req.Header(api.HeaderFlags))
	assert.Equal(t, api.MethodWebSocket, req.Method())

	resp, err := c.Recv(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, client.KindWebSocket, resp.Kind)
	assert.Equal(t, protocol.OpcodeText, resp.Opcode)
	assert.Equal(t, "hi", string(resp.Body))
}

func TestClientHandshakeBadAccept(t *testing.T) {
	f := fake.NewFactory()
	p := newPeer(t, f)
	sub := f.ByEndpoint(api.SocketSub, subAddr)
	f.ByEndpoint(api.SocketPush, pushAddr).OnSend = func(_ *fake.Socket, data []byte) {
		req, err := wire.DecodeRequest(data)
		require.NoError(t, err)
		body, err := protocol.HandshakeReply(nil, "bogus")
		require.NoError(t, err)
		sub.Push(wire.EncodeReply(req.Sender, []string{req.ConnID}, body))
	}

	err := p.NewClient().Handshake(testCtx(t), "/ws")
	require.ErrorIs(t, err, api.ErrDecode)
}

func TestDecodeResponse(t *testing.T) {
	frame, err := protocol.EncodeFrame(protocol.OpcodePing, nil)
	require.NoError(t, err)

	resp, err := client.DecodeResponse(api.MethodWebSocket, frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpcodePing, resp.Opcode)
	assert.Empty(t, resp.Body)

	resp, err = client.DecodeResponse("json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, client.KindRaw, resp.Kind)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))

	resp, err = client.DecodeResponse("POST", wire.HTTPResponse(404, []byte("nope")))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.Status)
	assert.Equal(t, "nope", string(resp.Body))

	_, err = client.DecodeResponse(api.MethodWebSocket, []byte{0x81})
	require.ErrorIs(t, err, api.ErrDecode)

	_, err = client.DecodeResponse("GET", []byte("not http"))
	require.ErrorIs(t, err, api.ErrDecode)
}
