// Copyright (c) 2025 Wallstop. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"testing"
	"time"

	"github.com/wallstop/fortress-rollback-sub001/internal/checksum"
	"github.com/wallstop/fortress-rollback-sub001/internal/frame"
	"github.com/wallstop/fortress-rollback-sub001/internal/telemetry"
	"github.com/wallstop/fortress-rollback-sub001/internal/transport"
)

// captureSocket guarda os datagramas enviados para inspeção.
type captureSocket struct {
	sent [][]byte
}

func (c *captureSocket) SendTo(payload []byte, addr string) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.sent = append(c.sent, buf)
}

func (c *captureSocket) ReceiveAllMessages() []transport.Datagram {
	return nil
}

func testEndpoint(t *testing.T, handles []frame.PlayerHandle, obs telemetry.Observer, seed int64) *Endpoint {
	t.Helper()
	pc := DefaultProtocolConfig()
	if seed != 0 {
		pc.RNGSeed = &seed
	}
	return NewEndpoint(EndpointOptions{
		PeerAddr:              "127.0.0.1:9999",
		Handles:               handles,
		NumPlayers:            2,
		LocalPlayers:          1,
		InputSize:             4,
		MaxPrediction:         8,
		DisconnectTimeout:     2 * time.Second,
		DisconnectNotifyStart: 500 * time.Millisecond,
		FPS:                   60,
		SyncConfig:            DefaultSyncConfig(),
		ProtocolConfig:        pc,
		Observer:              obs,
	})
}

// deliver drena a fila de envio de from e entrega as mensagens a to.
func deliver(t *testing.T, from, to *Endpoint) []Event {
	t.Helper()
	sock := &captureSocket{}
	from.SendAllMessages(sock)
	for _, payload := range sock.sent {
		msg, err := Decode(payload)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		to.HandleMessage(msg)
	}
	return to.Poll(make([]ConnectionStatus, 2))
}

// connect executa o handshake completo entre dois endpoints.
func connect(t *testing.T, a, b *Endpoint) {
	t.Helper()
	if err := a.Synchronize(); err != nil {
		t.Fatalf("synchronize a: %v", err)
	}
	if err := b.Synchronize(); err != nil {
		t.Fatalf("synchronize b: %v", err)
	}
	for i := 0; i < 30 && !(a.IsRunning() && b.IsRunning()); i++ {
		deliver(t, a, b)
		deliver(t, b, a)
	}
	if !a.IsRunning() || !b.IsRunning() {
		t.Fatal("endpoints failed to synchronize")
	}
}

func TestEndpoint_StartsInitializing(t *testing.T) {
	e := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	if e.State() != StateInitializing {
		t.Fatalf("expected initializing, got %v", e.State())
	}
	if e.Magic() == 0 {
		t.Fatal("magic must never be zero")
	}
}

func TestEndpoint_SynchronizeTransitions(t *testing.T) {
	e := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	if err := e.Synchronize(); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if e.State() != StateSynchronizing {
		t.Fatalf("expected synchronizing, got %v", e.State())
	}
	// só é permitido a partir de Initializing
	if err := e.Synchronize(); err == nil {
		t.Fatal("second synchronize should fail")
	}
}

func TestEndpoint_Handshake(t *testing.T) {
	a := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	b := testEndpoint(t, []frame.PlayerHandle{0}, nil, 2)
	connect(t, a, b)

	if a.remoteMagic != b.Magic() || b.remoteMagic != a.Magic() {
		t.Fatal("remote magic must be recorded after synchronization")
	}
}

func TestEndpoint_SyncReplyWithUnknownRandomIgnored(t *testing.T) {
	e := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	e.Synchronize()
	before := e.syncRemainingRoundtrips

	e.HandleMessage(Message{Magic: 500, Body: SyncReply{Random: 0xDEAD}})
	if e.syncRemainingRoundtrips != before {
		t.Fatal("reply with unknown random must not count as a roundtrip")
	}
}

func TestEndpoint_SyncRequestQueuesReply(t *testing.T) {
	e := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	e.Synchronize()

	e.HandleMessage(Message{Magic: 500, Body: SyncRequest{Random: 1234}})

	sock := &captureSocket{}
	e.SendAllMessages(sock)
	found := false
	for _, payload := range sock.sent {
		msg, err := Decode(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if reply, ok := msg.Body.(SyncReply); ok && reply.Random == 1234 {
			found = true
		}
	}
	if !found {
		t.Fatal("sync request should be answered with an echoing reply")
	}
}

func TestEndpoint_MagicFilteringAfterSync(t *testing.T) {
	obs := telemetry.NewCollectingObserver()
	a := testEndpoint(t, []frame.PlayerHandle{1}, obs, 1)
	b := testEndpoint(t, []frame.PlayerHandle{0}, obs, 2)
	connect(t, a, b)

	// mensagem com magic errado é descartada silenciosamente
	wrongMagic := a.Magic() + 1
	b.HandleMessage(Message{Magic: wrongMagic, Body: InputAck{AckFrame: 10}})

	// um ack legítimo precisa do magic correto para ter efeito; aqui só
	// verificamos que nada explodiu e o estado não mudou
	if b.State() != StateRunning {
		t.Fatalf("state should remain running, got %v", b.State())
	}
}

func TestEndpoint_InputRoundTrip(t *testing.T) {
	a := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	b := testEndpoint(t, []frame.PlayerHandle{0}, nil, 2)
	connect(t, a, b)

	status := make([]ConnectionStatus, 2)
	for i := range status {
		status[i] = NewConnectionStatus()
	}

	// a envia os inputs locais dos frames 0 e 1
	a.SendInput([]frame.PlayerInput{{Frame: 0, Bytes: []byte{1, 2, 3, 4}}}, status)
	a.SendInput([]frame.PlayerInput{{Frame: 1, Bytes: []byte{5, 6, 7, 8}}}, status)

	events := deliver(t, a, b)
	var inputs []frame.PlayerInput
	for _, ev := range events {
		if ev.Type == EventInput {
			inputs = append(inputs, ev.Input)
			if ev.Player != 0 {
				t.Fatalf("input should belong to player 0, got %d", ev.Player)
			}
		}
	}
	if len(inputs) != 2 {
		t.Fatalf("expected 2 input events, got %d", len(inputs))
	}
	if inputs[0].Frame != 0 || inputs[0].Bytes[0] != 1 {
		t.Fatalf("unexpected first input %+v", inputs[0])
	}
	if inputs[1].Frame != 1 || inputs[1].Bytes[0] != 5 {
		t.Fatalf("unexpected second input %+v", inputs[1])
	}

	// o ack de b viaja de volta e esvazia o pending output de a
	deliver(t, b, a)
	if len(a.pendingOutput) != 0 {
		t.Fatalf("pending output should be empty after ack, got %d", len(a.pendingOutput))
	}
}

func TestEndpoint_MissingReferenceDropsPacket(t *testing.T) {
	obs := telemetry.NewCollectingObserver()
	a := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	b := testEndpoint(t, []frame.PlayerHandle{0}, obs, 2)
	connect(t, a, b)

	status := make([]ConnectionStatus, 2)
	a.SendInput([]frame.PlayerInput{{Frame: 0, Bytes: []byte{1, 1, 1, 1}}}, status)
	deliver(t, a, b)
	obs.Clear()

	// injeta um Input cujo start frame pula além da referência disponível
	garbage := Message{Magic: a.Magic(), Body: Input{
		PeerConnectStatus: status,
		StartFrame:        b.lastRecvFrame() + 3,
		AckFrame:          0,
		Bytes:             []byte{0, 4, 0xAB},
	}}
	b.HandleMessage(garbage)
	events := b.Poll(status)

	for _, ev := range events {
		if ev.Type == EventInput {
			t.Fatal("no input events should be emitted for an undecodable packet")
		}
	}
	warnings := obs.OfKind(telemetry.KindNetworkProtocol)
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one network protocol warning, got %d", len(warnings))
	}
	if warnings[0].Severity != telemetry.SeverityWarning {
		t.Fatalf("expected warning severity, got %v", warnings[0].Severity)
	}
	if b.lastRecvFrame() != 0 {
		t.Fatalf("recv cache should be unchanged, last recv frame %d", b.lastRecvFrame())
	}
}

func TestEndpoint_QualityReportTriggersReply(t *testing.T) {
	a := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	b := testEndpoint(t, []frame.PlayerHandle{0}, nil, 2)
	connect(t, a, b)

	b.HandleMessage(Message{Magic: a.Magic(), Body: QualityReport{FrameAdvantage: 3, Ping: 1}})
	if b.remoteFrameAdvantage != 3 {
		t.Fatalf("remote frame advantage should be recorded, got %d", b.remoteFrameAdvantage)
	}

	sock := &captureSocket{}
	b.SendAllMessages(sock)
	found := false
	for _, payload := range sock.sent {
		msg, _ := Decode(payload)
		if reply, ok := msg.Body.(QualityReply); ok && reply.Pong == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("quality report should be answered with a quality reply")
	}
}

func TestEndpoint_DisconnectLifecycle(t *testing.T) {
	a := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	b := testEndpoint(t, []frame.PlayerHandle{0}, nil, 2)
	connect(t, a, b)

	a.Disconnect()
	if a.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %v", a.State())
	}

	// após o shutdown delay o poll conclui o ciclo de vida
	a.shutdownDeadline = time.Now().Add(-time.Second)
	a.Poll(make([]ConnectionStatus, 2))
	if a.State() != StateShutdown {
		t.Fatalf("expected shutdown, got %v", a.State())
	}

	// em shutdown a fila de envio é descartada
	a.queueMessage(KeepAlive{})
	sock := &captureSocket{}
	a.SendAllMessages(sock)
	if len(sock.sent) != 0 {
		t.Fatalf("shutdown endpoint must drop queued messages, sent %d", len(sock.sent))
	}
}

func TestEndpoint_ChecksumHistoryBounded(t *testing.T) {
	e := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	e.desyncDetection = DesyncDetectionOn(1)

	limit := e.protocolConfig.MaxChecksumHistory
	for f := 0; f < limit*3; f++ {
		e.HandleMessage(Message{Magic: 500, Body: ChecksumReport{
			Frame:    frame.Frame(f),
			Checksum: checksum.FNV1a([]byte{byte(f)}),
		}})
	}
	if len(e.pendingChecksums) > limit+1 {
		t.Fatalf("checksum history should be bounded near %d, got %d", limit, len(e.pendingChecksums))
	}
}

func TestEndpoint_PendingOutputLimitDisconnects(t *testing.T) {
	a := testEndpoint(t, []frame.PlayerHandle{1}, nil, 1)
	b := testEndpoint(t, []frame.PlayerHandle{0}, nil, 2)
	connect(t, a, b)

	status := make([]ConnectionStatus, 2)
	limit := a.protocolConfig.PendingOutputLimit

	disconnected := false
	for f := 0; f <= limit+1; f++ {
		a.SendInput([]frame.PlayerInput{{Frame: frame.Frame(f), Bytes: []byte{0, 0, 0, 0}}}, status)
		for _, ev := range a.Poll(status) {
			if ev.Type == EventDisconnected {
				disconnected = true
			}
		}
		// nunca entrega nada: o peer jamais acka
		a.SendAllMessages(&captureSocket{})
	}
	if !disconnected {
		t.Fatal("exceeding the pending output limit should emit a disconnect event")
	}
}
