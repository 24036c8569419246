package roomserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/auth"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient is a raw protocol client used to drive the server directly.
type testClient struct {
	t    *testing.T
	id   uuid.UUID
	conn *websocket.Conn
}

func setupServer(t *testing.T, opts Options) (*Server, *httptest.Server, *auth.Signer) {
	t.Helper()
	signer, err := auth.NewSigner("test-secret", time.Hour)
	require.NoError(t, err)
	if opts.Verifier == nil {
		opts.Verifier = signer
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	opts.Log = logger

	srv := New(opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return srv, ts, signer
}

func dialRaw(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func connectClient(t *testing.T, ts *httptest.Server, signer *auth.Signer, name string) *testClient {
	t.Helper()
	id := uuid.New()
	token, err := signer.Issue(id)
	require.NoError(t, err)

	conn := dialRaw(t, ts)
	tc := &testClient{t: t, id: id, conn: conn}
	tc.send(protocol.EventAuth, "", protocol.AuthPayload{UserID: id, Token: token, User: models.SocialUser{DisplayName: name}})
	env := tc.read()
	require.Equal(t, protocol.EventAuthOK, env.Type)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return tc
}

func (tc *testClient) send(eventType, ack string, data any) {
	tc.t.Helper()
	env, err := protocol.NewEnvelope(eventType, ack, data)
	require.NoError(tc.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(tc.t, wsjson.Write(ctx, tc.conn, env))
}

func (tc *testClient) read() protocol.Envelope {
	tc.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var env protocol.Envelope
	require.NoError(tc.t, wsjson.Read(ctx, tc.conn, &env))
	return env
}

// readUntil skips frames until one of the given type arrives.
func (tc *testClient) readUntil(eventType string) protocol.Envelope {
	tc.t.Helper()
	for i := 0; i < 20; i++ {
		env := tc.read()
		if env.Type == eventType {
			return env
		}
	}
	tc.t.Fatalf("no %s frame received", eventType)
	return protocol.Envelope{}
}

func (tc *testClient) request(eventType string, data any) protocol.AckPayload {
	tc.t.Helper()
	ack := uuid.NewString()
	tc.send(eventType, ack, data)
	for i := 0; i < 20; i++ {
		env := tc.read()
		if env.Type == protocol.EventAck && env.Ack == ack {
			var p protocol.AckPayload
			require.NoError(tc.t, env.Decode(&p))
			return p
		}
	}
	tc.t.Fatalf("no ack for %s", eventType)
	return protocol.AckPayload{}
}

func createRoom(t *testing.T, host *testClient, cfg models.RoomConfig) *models.SharedRoom {
	t.Helper()
	ack := host.request(protocol.RequestCreateRoom, cfg)
	require.True(t, ack.Success, ack.Error)
	require.NotNil(t, ack.Room)
	return ack.Room
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	srv, ts, _ := setupServer(t, Options{})
	conn := dialRaw(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	env, _ := protocol.NewEnvelope(protocol.EventAuth, "", protocol.AuthPayload{UserID: uuid.New(), Token: "bogus"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, env))

	var reply protocol.Envelope
	err := wsjson.Read(ctx, conn, &reply)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Zero(t, srv.HandshakeCount())
}

func TestHandshakeRejectsMismatchedSubject(t *testing.T) {
	_, ts, signer := setupServer(t, Options{})
	token, _ := signer.Issue(uuid.New())
	conn := dialRaw(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	env, _ := protocol.NewEnvelope(protocol.EventAuth, "", protocol.AuthPayload{UserID: uuid.New(), Token: token})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, env))

	var reply protocol.Envelope
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(wsjson.Read(ctx, conn, &reply)))
}

func TestCreateJoinAndCapacity(t *testing.T) {
	srv, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	guest := connectClient(t, ts, signer, "Guest")
	late := connectClient(t, ts, signer, "Late")

	room := createRoom(t, host, models.RoomConfig{Name: "Duo room", Theme: "anime", MaxParticipants: 2})
	assert.Equal(t, host.id, room.HostID)
	assert.Equal(t, 1, room.CurrentParticipants)

	ack := guest.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID})
	require.True(t, ack.Success, ack.Error)
	assert.Equal(t, 2, ack.Room.CurrentParticipants)

	joined := host.readUntil(protocol.EventParticipantJoin)
	var jp protocol.ParticipantPayload
	require.NoError(t, joined.Decode(&jp))
	assert.Equal(t, guest.id, jp.Participant.User.ID)

	ack = late.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID})
	assert.False(t, ack.Success)
	assert.Equal(t, "Room is full", ack.Error)

	snap := srv.Room(room.ID)
	require.NotNil(t, snap)
	assert.Equal(t, len(snap.Participants), snap.CurrentParticipants)
	assert.LessOrEqual(t, snap.CurrentParticipants, snap.MaxParticipants)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	_, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	ack := host.request(protocol.RequestCreateRoom, models.RoomConfig{Name: "x", MaxParticipants: 4})
	assert.False(t, ack.Success)
	assert.Contains(t, ack.Error, "room name")
}

func TestPrivateRoomPassword(t *testing.T) {
	_, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	guest := connectClient(t, ts, signer, "Guest")

	room := createRoom(t, host, models.RoomConfig{Name: "Secret", MaxParticipants: 4, Visibility: models.VisibilityPrivate, Password: "hunter2"})
	assert.True(t, room.HasPassword)

	listed := guest.request(protocol.RequestListRooms, nil)
	require.True(t, listed.Success)
	assert.Empty(t, listed.Rooms, "private rooms are not listed")

	ack := guest.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID, Password: "wrong"})
	assert.Equal(t, "Invalid room password", ack.Error)

	ack = guest.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID, Password: "hunter2"})
	assert.True(t, ack.Success, ack.Error)
}

func TestHostLeavePromotesNextParticipant(t *testing.T) {
	srv, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	guest := connectClient(t, ts, signer, "Guest")

	room := createRoom(t, host, models.RoomConfig{Name: "Handover", MaxParticipants: 4})
	require.True(t, guest.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID}).Success)

	require.True(t, host.request(protocol.RequestLeaveRoom, nil).Success)

	left := guest.readUntil(protocol.EventParticipantLeave)
	var lp protocol.ParticipantPayload
	require.NoError(t, left.Decode(&lp))
	assert.Equal(t, host.id, lp.Participant.User.ID)

	snap := srv.Room(room.ID)
	require.NotNil(t, snap)
	assert.Equal(t, guest.id, snap.HostID)
	assert.Equal(t, models.RoleHost, snap.Participant(guest.id).Role)

	require.True(t, guest.request(protocol.RequestLeaveRoom, nil).Success)
	assert.Nil(t, srv.Room(room.ID), "empty room is closed")
}

func TestOnlyHostMayUpdateSettingsOrCountdown(t *testing.T) {
	_, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	guest := connectClient(t, ts, signer, "Guest")

	room := createRoom(t, host, models.RoomConfig{Name: "Rules", MaxParticipants: 4})
	require.True(t, guest.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID}).Success)

	ack := guest.request(protocol.RequestUpdateSettings, protocol.UpdateSettingsPayload{RoomID: room.ID, Settings: models.RoomSettings{AllowBetting: true}})
	assert.False(t, ack.Success)

	guest.send(protocol.EventCountdownStart, "", protocol.CountdownPayload{RoomID: room.ID})
	errEnv := guest.readUntil(protocol.EventError)
	var ep protocol.ErrorPayload
	require.NoError(t, errEnv.Decode(&ep))
	assert.Contains(t, ep.Message, "host")

	ack = host.request(protocol.RequestUpdateSettings, protocol.UpdateSettingsPayload{RoomID: room.ID, Settings: models.RoomSettings{AllowBetting: true, CountdownSeconds: 1}})
	require.True(t, ack.Success, ack.Error)
	assert.True(t, ack.Room.Settings.AllowBetting)

	host.send(protocol.EventCountdownStart, "", protocol.CountdownPayload{RoomID: room.ID})
	cd := guest.readUntil(protocol.EventCountdownStart)
	var cp protocol.CountdownPayload
	require.NoError(t, cd.Decode(&cp))
	assert.Equal(t, 1, cp.Seconds)
}

func TestBoxOpenedUpdatesStatistics(t *testing.T) {
	srv, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	room := createRoom(t, host, models.RoomConfig{Name: "Openers", Theme: "tech", MaxParticipants: 4})

	host.send(protocol.EventBoxOpened, "", models.BoxOpenedResult{ItemName: "Keyboard", Value: 80, Rarity: models.RarityEpic})
	env := host.readUntil(protocol.EventBoxOpened)
	var got models.BoxOpenedResult
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, host.id, got.UserID)
	assert.Equal(t, room.ID, got.RoomID)
	assert.Equal(t, "tech", got.Theme)

	snap := srv.Room(room.ID)
	assert.Equal(t, 1, snap.Statistics.BoxesOpened)
	assert.Equal(t, 1, snap.Statistics.RareItems)
	assert.InDelta(t, 80.0, snap.Statistics.TotalValue, 0.001)
}

func TestBetEventsRelayToOtherMembers(t *testing.T) {
	_, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	guest := connectClient(t, ts, signer, "Guest")
	room := createRoom(t, host, models.RoomConfig{Name: "Bets", MaxParticipants: 4, Settings: models.RoomSettings{AllowBetting: true}})
	require.True(t, guest.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID}).Success)

	bet := &models.Bet{ID: uuid.New(), RoomID: room.ID, CreatorID: host.id, Status: models.BetOpen}
	host.send(protocol.EventBetCreated, "", protocol.BetEvent{Type: protocol.EventBetCreated, RoomID: room.ID, Bet: bet})

	env := guest.readUntil(protocol.EventBetCreated)
	var ev protocol.BetEvent
	require.NoError(t, env.Decode(&ev))
	assert.Equal(t, bet.ID, ev.Bet.ID)
}

func TestOnlyCreatorMaySettleBets(t *testing.T) {
	_, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	guest := connectClient(t, ts, signer, "Guest")
	room := createRoom(t, host, models.RoomConfig{Name: "Bets", MaxParticipants: 4, Settings: models.RoomSettings{AllowBetting: true}})
	require.True(t, guest.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID}).Success)

	bet := &models.Bet{ID: uuid.New(), RoomID: room.ID, CreatorID: host.id, Status: models.BetOpen}
	forged := bet.Clone()
	forged.Status = models.BetCancelled
	forged.Participants = []models.BetParticipant{{UserID: guest.id, OptionID: "rare", Amount: 9000}}
	guest.send(protocol.EventBetCancelled, "", protocol.BetEvent{Type: protocol.EventBetCancelled, RoomID: room.ID, Bet: forged})

	env := guest.readUntil(protocol.EventError)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Contains(t, p.Message, "creator")

	joined := bet.Clone()
	joined.Participants = []models.BetParticipant{{UserID: guest.id, OptionID: "rare", Amount: 50}}
	guest.send(protocol.EventBetJoined, "", protocol.BetEvent{Type: protocol.EventBetJoined, RoomID: room.ID, Bet: joined})

	for i := 0; i < 20; i++ {
		env := host.read()
		require.NotEqual(t, protocol.EventBetCancelled, env.Type)
		if env.Type == protocol.EventBetJoined {
			return
		}
	}
	t.Fatal("join was not relayed")
}

func TestIdleRoomCloses(t *testing.T) {
	srv, ts, signer := setupServer(t, Options{IdleTimeout: 100 * time.Millisecond})
	host := connectClient(t, ts, signer, "Host")
	room := createRoom(t, host, models.RoomConfig{Name: "Sleepy", MaxParticipants: 4})

	require.Eventually(t, func() bool { return srv.Room(room.ID) == nil }, 2*time.Second, 20*time.Millisecond)

	env := host.readUntil(protocol.EventRoomUpdate)
	var got models.SharedRoom
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, models.RoomClosed, got.Status)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	srv, ts, signer := setupServer(t, Options{})
	host := connectClient(t, ts, signer, "Host")
	guest := connectClient(t, ts, signer, "Guest")
	room := createRoom(t, host, models.RoomConfig{Name: "Dropper", MaxParticipants: 4})
	require.True(t, guest.request(protocol.RequestJoinRoom, protocol.JoinRoomPayload{RoomID: room.ID}).Success)

	guest.conn.Close(websocket.StatusNormalClosure, "bye")

	require.Eventually(t, func() bool {
		snap := srv.Room(room.ID)
		return snap != nil && snap.CurrentParticipants == 1
	}, 2*time.Second, 20*time.Millisecond)
}
