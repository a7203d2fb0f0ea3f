package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/parleylab/parley/internal/config"
	"github.com/parleylab/parley/internal/media"
	"github.com/parleylab/parley/internal/media/mediatest"
	"github.com/parleylab/parley/internal/signal"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func testConfig() *config.Config {
	return &config.Config{
		Mode:                 "dev",
		PingPeriod:           54 * time.Second,
		MaxIncomingBitrate:   1500000,
		AudioLevelInterval:   800,
		AudioLevelThreshold:  -80,
		AudioLevelMaxEntries: 1,
	}
}

func newTestRoom(t *testing.T, cfg *config.Config, replicas int) *Room {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	r, err := NewRoom(cfg, mediatest.NewWorker(), replicas)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

// testClient drives one signaling connection from the peer side. Requests
// arriving from the server (newConsumer and friends) are recorded and, by
// default, acknowledged.
type testClient struct {
	conn *signal.Conn

	// rejectNext rejects that many server-initiated requests before
	// accepting again.
	rejectNext atomic.Int32

	mu       sync.Mutex
	notifs   []signal.Message
	requests []signal.Message
}

func connect(t *testing.T, r *Room, peerID string) *testClient {
	t.Helper()
	serverEnd, clientEnd := signal.Pipe()
	c := &testClient{}
	c.conn = signal.NewConn(clientEnd, c.handle, nil)
	c.conn.OnNotification(func(m signal.Message) {
		c.mu.Lock()
		c.notifs = append(c.notifs, m)
		c.mu.Unlock()
	})
	c.conn.Run()
	require.NoError(t, r.HandleConnection(peerID, serverEnd))
	return c
}

func (c *testClient) handle(m signal.Message, accept func(data any)) error {
	c.mu.Lock()
	c.requests = append(c.requests, m)
	c.mu.Unlock()
	if c.rejectNext.Load() > 0 && c.rejectNext.Dec() >= 0 {
		return signal.NewError(signal.CodeInternal, "client refused")
	}
	return nil
}

func (c *testClient) request(t *testing.T, method string, data any) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return c.conn.Request(ctx, method, data)
}

func (c *testClient) notifications(method string) []signal.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []signal.Message
	for _, n := range c.notifs {
		if n.Method == method {
			out = append(out, n)
		}
	}
	return out
}

func (c *testClient) serverRequests(method string) []signal.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []signal.Message
	for _, m := range c.requests {
		if m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

func (c *testClient) waitNotify(t *testing.T, method string) signal.Message {
	t.Helper()
	var m signal.Message
	require.Eventually(t, func() bool {
		ns := c.notifications(method)
		if len(ns) == 0 {
			return false
		}
		m = ns[0]
		return true
	}, waitFor, tick, "no %q notification", method)
	return m
}

func (c *testClient) waitServerRequest(t *testing.T, method string) signal.Message {
	t.Helper()
	var m signal.Message
	require.Eventually(t, func() bool {
		rs := c.serverRequests(method)
		if len(rs) == 0 {
			return false
		}
		m = rs[0]
		return true
	}, waitFor, tick, "no %q request from server", method)
	return m
}

func testSCTPCapabilities() *media.SCTPCapabilities {
	return &media.SCTPCapabilities{NumStreams: media.NumSCTPStreams{OS: 1024, MIS: 1024}}
}

func (c *testClient) join(t *testing.T, r *Room, displayName string, rtpCaps *media.RTPCapabilities) []PeerInfo {
	t.Helper()
	data := H{"displayName": displayName}
	if rtpCaps != nil {
		data["rtpCapabilities"] = rtpCaps
	}
	data["sctpCapabilities"] = testSCTPCapabilities()
	raw, err := c.request(t, "join", data)
	require.NoError(t, err)
	var rsp struct {
		Peers []PeerInfo `json:"peers"`
	}
	require.NoError(t, json.Unmarshal(raw, &rsp))
	return rsp.Peers
}

func (c *testClient) createTransport(t *testing.T, producing, consuming bool) string {
	t.Helper()
	raw, err := c.request(t, "createWebRtcTransport", H{
		"producing":        producing,
		"consuming":        consuming,
		"sctpCapabilities": testSCTPCapabilities(),
	})
	require.NoError(t, err)
	var rsp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &rsp))
	require.NotEmpty(t, rsp.ID)
	return rsp.ID
}

func (c *testClient) produce(t *testing.T, transportID string, kind media.Kind) string {
	t.Helper()
	raw, err := c.request(t, "produce", H{
		"transportId":   transportID,
		"kind":          kind,
		"rtpParameters": media.RTPParameters{},
	})
	require.NoError(t, err)
	var rsp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &rsp))
	return rsp.ID
}

// joinedClient runs the full client bootstrap: capabilities, join, one
// producing and one consuming transport.
func joinedClient(t *testing.T, r *Room, peerID, displayName string) (*testClient, string) {
	t.Helper()
	c := connect(t, r, peerID)
	caps := r.RouterRTPCapabilities()
	c.createTransport(t, false, true)
	sendTransport := c.createTransport(t, true, false)
	c.join(t, r, displayName, &caps)
	return c, sendTransport
}

func getPeer(r *Room, id string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[id]
}

func peerConsumers(p *Peer) []media.Consumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]media.Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

func TestGetRouterRtpCapabilities(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	c := connect(t, r, "alice")

	raw, err := c.request(t, "getRouterRtpCapabilities", nil)
	require.NoError(t, err)

	var caps media.RTPCapabilities
	require.NoError(t, json.Unmarshal(raw, &caps))
	assert.NotEmpty(t, caps.Codecs)
}

func TestRequestsRequireJoin(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	c := connect(t, r, "alice")
	transportID := c.createTransport(t, true, false)

	for _, method := range []string{"produce", "produceData", "changeDisplayName", "closeProducer", "pauseConsumer"} {
		_, err := c.request(t, method, H{"transportId": transportID})
		var serr *signal.Error
		require.ErrorAs(t, err, &serr, "method %s", method)
		assert.Equal(t, signal.CodeBadRequest, serr.Code, "method %s", method)
		assert.Equal(t, "peer not yet joined", serr.Reason, "method %s", method)
	}
}

func TestJoinIsSymmetric(t *testing.T) {
	r := newTestRoom(t, nil, 0)

	a := connect(t, r, "alice")
	caps := r.RouterRTPCapabilities()
	peers := a.join(t, r, "Alice", &caps)
	assert.Empty(t, peers)

	b := connect(t, r, "bob")
	peers = b.join(t, r, "Bob", &caps)
	require.Len(t, peers, 1)
	assert.Equal(t, "alice", peers[0].ID)
	assert.Equal(t, "Alice", peers[0].DisplayName)

	n := a.waitNotify(t, "newPeer")
	var info PeerInfo
	require.NoError(t, json.Unmarshal(n.Data, &info))
	assert.Equal(t, "bob", info.ID)
	assert.Equal(t, "Bob", info.DisplayName)
}

func TestDoubleJoinRejected(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	c := connect(t, r, "alice")
	caps := r.RouterRTPCapabilities()
	c.join(t, r, "Alice", &caps)

	_, err := c.request(t, "join", H{"displayName": "Alice again"})
	var serr *signal.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "peer already joined", serr.Reason)
}

func TestDuplicatePeerIDForceClosesPrevious(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	first := connect(t, r, "alice")
	_ = connect(t, r, "alice")

	require.Eventually(t, first.conn.Closed, waitFor, tick)
	assert.False(t, r.Closed())
}

func TestDuplicatePeerIDKeepsSessionAlive(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	first, _ := joinedClient(t, r, "alice", "Alice")

	second := connect(t, r, "alice")
	require.Eventually(t, first.conn.Closed, waitFor, tick)
	require.False(t, r.Closed())

	// The replacement connection must land in a live session and be able
	// to run the full bootstrap again under the same id.
	second.createTransport(t, false, true)
	peers := second.join(t, r, "Alice", routerCaps(r))
	assert.Empty(t, peers)
	assert.False(t, r.Closed())
}

func TestProduceCreatesConsumerForOtherPeer(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	producerID := a.produce(t, sendTransport, media.KindAudio)

	req := b.waitServerRequest(t, "newConsumer")
	var offer struct {
		PeerID         string              `json:"peerId"`
		ProducerID     string              `json:"producerId"`
		ID             string              `json:"id"`
		Kind           media.Kind          `json:"kind"`
		Type           string              `json:"type"`
		ProducerPaused bool                `json:"producerPaused"`
		RTPParameters  media.RTPParameters `json:"rtpParameters"`
	}
	require.NoError(t, json.Unmarshal(req.Data, &offer))
	assert.Equal(t, "alice", offer.PeerID)
	assert.Equal(t, producerID, offer.ProducerID)
	assert.Equal(t, media.KindAudio, offer.Kind)
	assert.False(t, offer.ProducerPaused)

	// After the ack the consumer is resumed and an initial score is pushed.
	require.Eventually(t, func() bool {
		consumers := peerConsumers(getPeer(r, "bob"))
		return len(consumers) == 1 && !consumers[0].Paused()
	}, waitFor, tick)
	b.waitNotify(t, "consumerScore")
}

func TestJoinReceivesExistingProducers(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	a.produce(t, sendTransport, media.KindAudio)

	// The late joiner sees the producing peer and is offered exactly one
	// consumer for the existing producer.
	b := connect(t, r, "bob")
	b.createTransport(t, false, true)
	peers := b.join(t, r, "Bob", routerCaps(r))
	require.Len(t, peers, 1)
	assert.Equal(t, "alice", peers[0].ID)

	req := b.waitServerRequest(t, "newConsumer")
	var offer struct {
		PeerID string `json:"peerId"`
	}
	require.NoError(t, json.Unmarshal(req.Data, &offer))
	assert.Equal(t, "alice", offer.PeerID)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, b.serverRequests("newConsumer"), 1)
}

func TestNoCapabilitiesNoConsumers(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")

	// Bob declares no receive capabilities; he can never consume.
	b := connect(t, r, "bob")
	b.createTransport(t, false, true)
	b.join(t, r, "Bob", nil)

	a.produce(t, sendTransport, media.KindAudio)
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, b.serverRequests("newConsumer"))
	assert.Empty(t, peerConsumers(getPeer(r, "bob")))
}

func TestConsumerStaysPausedWithoutAck(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	b.rejectNext.Store(1)
	a.produce(t, sendTransport, media.KindAudio)

	b.waitServerRequest(t, "newConsumer")
	time.Sleep(100 * time.Millisecond)

	consumers := peerConsumers(getPeer(r, "bob"))
	require.Len(t, consumers, 1)
	assert.True(t, consumers[0].Paused(), "consumer must not be resumed without an ack")
}

func TestConsumerReplicas(t *testing.T) {
	r := newTestRoom(t, nil, 2)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	a.produce(t, sendTransport, media.KindAudio)

	// 1 primary + 2 replicas, each negotiated independently.
	require.Eventually(t, func() bool {
		return len(b.serverRequests("newConsumer")) == 3
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		consumers := peerConsumers(getPeer(r, "bob"))
		if len(consumers) != 3 {
			return false
		}
		for _, c := range consumers {
			if c.Paused() {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestReplicaFailureDoesNotBlockOthers(t *testing.T) {
	r := newTestRoom(t, nil, 2)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	b.rejectNext.Store(1)
	a.produce(t, sendTransport, media.KindAudio)

	require.Eventually(t, func() bool {
		resumed := 0
		for _, c := range peerConsumers(getPeer(r, "bob")) {
			if !c.Paused() {
				resumed++
			}
		}
		return resumed == 2
	}, waitFor, tick)
}

func TestCloseProducerClosesConsumers(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	producerID := a.produce(t, sendTransport, media.KindAudio)
	require.Eventually(t, func() bool {
		return len(peerConsumers(getPeer(r, "bob"))) == 1
	}, waitFor, tick)

	_, err := a.request(t, "closeProducer", H{"producerId": producerID})
	require.NoError(t, err)

	b.waitNotify(t, "consumerClosed")
	require.Eventually(t, func() bool {
		return len(peerConsumers(getPeer(r, "bob"))) == 0
	}, waitFor, tick)
	assert.Nil(t, getPeer(r, "alice").getProducer(producerID))
}

func TestPauseResumeProducerPropagates(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	producerID := a.produce(t, sendTransport, media.KindAudio)
	b.waitServerRequest(t, "newConsumer")
	require.Eventually(t, func() bool {
		consumers := peerConsumers(getPeer(r, "bob"))
		return len(consumers) == 1 && !consumers[0].Paused()
	}, waitFor, tick)

	_, err := a.request(t, "pauseProducer", H{"producerId": producerID})
	require.NoError(t, err)
	b.waitNotify(t, "consumerPaused")

	_, err = a.request(t, "resumeProducer", H{"producerId": producerID})
	require.NoError(t, err)
	b.waitNotify(t, "consumerResumed")
}

func TestPeerDisconnectCascades(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	a.produce(t, sendTransport, media.KindAudio)
	require.Eventually(t, func() bool {
		return len(peerConsumers(getPeer(r, "bob"))) == 1
	}, waitFor, tick)

	a.conn.Close()

	n := b.waitNotify(t, "peerClosed")
	var data struct {
		PeerID string `json:"peerId"`
	}
	require.NoError(t, json.Unmarshal(n.Data, &data))
	assert.Equal(t, "alice", data.PeerID)

	require.Eventually(t, func() bool {
		return getPeer(r, "alice") == nil
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return len(peerConsumers(getPeer(r, "bob"))) == 0
	}, waitFor, tick)
	assert.False(t, r.Closed(), "session stays open while a peer remains")

	// A later joiner never sees the departed peer.
	c := connect(t, r, "carol")
	peers := c.join(t, r, "Carol", routerCaps(r))
	require.Len(t, peers, 1)
	assert.Equal(t, "bob", peers[0].ID)
}

func TestLastPeerLeavingClosesSession(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, _ := joinedClient(t, r, "alice", "Alice")

	var closes atomic.Int32
	r.OnClose(func() { closes.Inc() })

	a.conn.Close()
	require.Eventually(t, r.Closed, waitFor, tick)

	// Closing again is a no-op.
	r.Close()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), closes.Load())
}

func TestChangeDisplayName(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, _ := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	_, err := a.request(t, "changeDisplayName", H{"displayName": "Alicia"})
	require.NoError(t, err)

	n := b.waitNotify(t, "peerDisplayNameChanged")
	var data struct {
		PeerID         string `json:"peerId"`
		DisplayName    string `json:"displayName"`
		OldDisplayName string `json:"oldDisplayName"`
	}
	require.NoError(t, json.Unmarshal(n.Data, &data))
	assert.Equal(t, "alice", data.PeerID)
	assert.Equal(t, "Alicia", data.DisplayName)
	assert.Equal(t, "Alice", data.OldDisplayName)
}

func TestRestartIce(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")

	raw, err := a.request(t, "restartIce", H{"transportId": sendTransport})
	require.NoError(t, err)

	var info media.ICERestartInfo
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.NotEmpty(t, info.UsernameFragment)
}

func TestMaxIncomingBitrateApplied(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	_, sendTransport := joinedClient(t, r, "alice", "Alice")

	transport := getPeer(r, "alice").getTransport(sendTransport).(*mediatest.Transport)
	require.Eventually(t, func() bool {
		return transport.MaxIncomingBitrate() == 1500000
	}, waitFor, tick)
}

func TestDownlinkBweNotification(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")

	transport := getPeer(r, "alice").getTransport(sendTransport).(*mediatest.Transport)
	transport.EmitTrace(media.TraceEvent{
		Type:      media.TraceEventBWE,
		Direction: "out",
		Info:      json.RawMessage(`{"desiredBitrate":300000}`),
	})

	n := a.waitNotify(t, "downlinkBwe")
	var info map[string]any
	require.NoError(t, json.Unmarshal(n.Data, &info))
	assert.EqualValues(t, 300000, info["desiredBitrate"])
}

func TestTransportStats(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")

	raw, err := a.request(t, "getTransportStats", H{"transportId": sendTransport})
	require.NoError(t, err)
	var stats []map[string]any
	require.NoError(t, json.Unmarshal(raw, &stats))
	require.NotEmpty(t, stats)
	assert.Equal(t, sendTransport, stats[0]["transportId"])

	_, err = a.request(t, "getTransportStats", H{"transportId": "nope"})
	var serr *signal.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, signal.CodeNotFound, serr.Code)
}

func TestActiveSpeakerNotifications(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	producerID := a.produce(t, sendTransport, media.KindAudio)

	observer := r.audioLevel.(*mediatest.AudioLevelObserver)
	require.True(t, observer.Has(producerID), "audio producer registered with observer")

	producer := getPeer(r, "alice").getProducer(producerID)
	observer.EmitVolumes(producer, -42)

	n := b.waitNotify(t, "activeSpeaker")
	var data struct {
		PeerID *string `json:"peerId"`
		Volume int     `json:"volume"`
	}
	require.NoError(t, json.Unmarshal(n.Data, &data))
	require.NotNil(t, data.PeerID)
	assert.Equal(t, "alice", *data.PeerID)
	assert.Equal(t, -42, data.Volume)

	observer.EmitSilence()
	require.Eventually(t, func() bool {
		for _, n := range b.notifications("activeSpeaker") {
			var d struct {
				PeerID *string `json:"peerId"`
			}
			if json.Unmarshal(n.Data, &d) == nil && d.PeerID == nil {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestAudioObserverUntracksClosedProducer(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")

	producerID := a.produce(t, sendTransport, media.KindAudio)
	observer := r.audioLevel.(*mediatest.AudioLevelObserver)
	require.True(t, observer.Has(producerID))

	_, err := a.request(t, "closeProducer", H{"producerId": producerID})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return !observer.Has(producerID)
	}, waitFor, tick)
}

func TestProducerScoreRelay(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")

	producerID := a.produce(t, sendTransport, media.KindVideo)
	producer := getPeer(r, "alice").getProducer(producerID).(*mediatest.Producer)
	producer.EmitScore([]media.ProducerScore{{SSRC: 1234, Score: 10}})

	n := a.waitNotify(t, "producerScore")
	var data struct {
		ProducerID string                `json:"producerId"`
		Score      []media.ProducerScore `json:"score"`
	}
	require.NoError(t, json.Unmarshal(n.Data, &data))
	assert.Equal(t, producerID, data.ProducerID)
	require.Len(t, data.Score, 1)
	assert.Equal(t, 10, data.Score[0].Score)
}

func TestChatDataProducerFanOut(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")
	b, _ := joinedClient(t, r, "bob", "Bob")

	raw, err := a.request(t, "produceData", H{
		"transportId":          sendTransport,
		"label":                "chat",
		"protocol":             "",
		"sctpStreamParameters": media.SCTPStreamParameters{StreamID: 1, Ordered: boolPtr(true)},
	})
	require.NoError(t, err)
	var rsp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &rsp))

	req := b.waitServerRequest(t, "newDataConsumer")
	var offer struct {
		PeerID         *string `json:"peerId"`
		DataProducerID string  `json:"dataProducerId"`
		Label          string  `json:"label"`
	}
	require.NoError(t, json.Unmarshal(req.Data, &offer))
	require.NotNil(t, offer.PeerID)
	assert.Equal(t, "alice", *offer.PeerID)
	assert.Equal(t, rsp.ID, offer.DataProducerID)
	assert.Equal(t, "chat", offer.Label)
}

func TestBotEcho(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, sendTransport := joinedClient(t, r, "alice", "Alice")

	// Joining subscribes the peer to the bot's stream; the offer carries a
	// null source peer.
	req := a.waitServerRequest(t, "newDataConsumer")
	var offer struct {
		PeerID *string `json:"peerId"`
		Label  string  `json:"label"`
	}
	require.NoError(t, json.Unmarshal(req.Data, &offer))
	assert.Nil(t, offer.PeerID)
	assert.Equal(t, "bot", offer.Label)

	// Capture what the bot sends back through its producer.
	peer := getPeer(r, "alice")
	var echoMu sync.Mutex
	var echoes []string
	require.Eventually(t, func() bool {
		peer.mu.RLock()
		defer peer.mu.RUnlock()
		return len(peer.dataConsumers) == 1
	}, waitFor, tick)
	peer.mu.RLock()
	for _, dc := range peer.dataConsumers {
		dc.OnMessage(func(payload []byte) {
			echoMu.Lock()
			echoes = append(echoes, string(payload))
			echoMu.Unlock()
		})
	}
	peer.mu.RUnlock()

	raw, err := a.request(t, "produceData", H{
		"transportId":          sendTransport,
		"label":                "bot",
		"sctpStreamParameters": media.SCTPStreamParameters{StreamID: 2},
	})
	require.NoError(t, err)
	var rsp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &rsp))

	dataProducer := peer.getDataProducer(rsp.ID)
	require.NotNil(t, dataProducer)
	require.NoError(t, dataProducer.Send([]byte("hello")))

	require.Eventually(t, func() bool {
		echoMu.Lock()
		defer echoMu.Unlock()
		return len(echoes) == 1
	}, waitFor, tick)
	echoMu.Lock()
	defer echoMu.Unlock()
	assert.Equal(t, `Alice said me: "hello"`, echoes[0])
}

type recordingThrottler struct {
	mu      sync.Mutex
	applied []ThrottleOptions
	resets  int
}

func (rt *recordingThrottler) Apply(opts ThrottleOptions) error {
	rt.mu.Lock()
	rt.applied = append(rt.applied, opts)
	rt.mu.Unlock()
	return nil
}

func (rt *recordingThrottler) Reset() error {
	rt.mu.Lock()
	rt.resets++
	rt.mu.Unlock()
	return nil
}

func TestNetworkThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleSecret = "s3cret"
	r := newTestRoom(t, cfg, 0)
	throttler := &recordingThrottler{}
	r.SetThrottler(throttler)

	a, _ := joinedClient(t, r, "alice", "Alice")

	_, err := a.request(t, "applyNetworkThrottle", H{"secret": "wrong", "uplink": 1000})
	var serr *signal.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, signal.CodeForbidden, serr.Code)

	_, err = a.request(t, "applyNetworkThrottle", H{"secret": "s3cret", "uplink": 1000, "downlink": 2000})
	require.NoError(t, err)
	throttler.mu.Lock()
	require.Len(t, throttler.applied, 1)
	assert.Equal(t, 1000, throttler.applied[0].Uplink)
	assert.Equal(t, 2000, throttler.applied[0].Downlink)
	throttler.mu.Unlock()
	assert.True(t, r.Status().Throttled)

	_, err = a.request(t, "resetNetworkThrottle", H{"secret": "s3cret"})
	require.NoError(t, err)
	assert.False(t, r.Status().Throttled)
}

func TestThrottleDisabledWithoutSecret(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a, _ := joinedClient(t, r, "alice", "Alice")

	_, err := a.request(t, "applyNetworkThrottle", H{"secret": "", "uplink": 1000})
	var serr *signal.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, signal.CodeForbidden, serr.Code)
}

func TestUnknownMethodRejected(t *testing.T) {
	r := newTestRoom(t, nil, 0)
	a := connect(t, r, "alice")

	_, err := a.request(t, "definitelyNotAMethod", nil)
	var serr *signal.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, signal.CodeInternal, serr.Code)
}

func boolPtr(b bool) *bool { return &b }
