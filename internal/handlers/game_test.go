package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/firdaus0729/casino-frontend/internal/blocksource"
	"github.com/firdaus0729/casino-frontend/internal/handlers"
	"github.com/firdaus0729/casino-frontend/internal/models"
	"github.com/firdaus0729/casino-frontend/internal/services"
)

type staticSource struct {
	height int64
	blocks map[int64]string
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) CurrentHeight(ctx context.Context) (int64, error) { return s.height, nil }

func (s *staticSource) BlockID(ctx context.Context, height int64) (string, error) {
	if id, ok := s.blocks[height]; ok {
		return id, nil
	}
	return "", blocksource.ErrBlockUnavailable
}

type testServer struct {
	router *gin.Engine
	store  *services.MemoryStore
	source *staticSource
	jwt    *services.JWTService
	ws     *handlers.WebSocketHandler
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	store := services.NewMemoryStore()
	source := &staticSource{height: 200, blocks: map[int64]string{}}
	log := zap.NewNop()
	ws := handlers.NewWebSocketHandler(log)

	engine, err := services.NewEngine(
		[]models.GameType{models.GameTypeOddEven, models.GameTypeBankerPlayer},
		source, store, ws, services.NewLogAlerter(log), services.NewMetrics(prometheus.NewRegistry()), log,
		services.EngineConfig{
			Tracker:        services.TrackerConfig{Stride: 1, BlockInterval: 3 * time.Second},
			Confirmations:  1,
			SettleInterval: time.Second,
			Limits: services.BetLimits{
				Min:        decimal.New(1, 0),
				Max:        decimal.New(15000, 0),
				Currencies: []string{"USD"},
			},
			BetsPerMinute: 30,
			ExplorerURL:   "https://tronscan.org/#/block/",
		})
	require.NoError(t, err)

	jwtService := services.NewJWTService("handler-test-secret")
	router := gin.New()
	handlers.RegisterRoutes(router, handlers.NewGameHandler(engine, log), handlers.NewUserHandler(engine), ws, jwtService, store)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ws.Run(ctx)

	return &testServer{router: router, store: store, source: source, jwt: jwtService, ws: ws}
}

func (s *testServer) openRound(t *testing.T, game models.GameType, height int64, cutoff time.Time) {
	t.Helper()
	require.NoError(t, s.store.CreateRound(context.Background(), &models.Round{
		GameType:     game,
		Rule:         map[models.GameType]string{models.GameTypeOddEven: "oddeven-lastchar-v1", models.GameTypeBankerPlayer: "bankerplayer-tail2-v1"}[game],
		TargetHeight: height,
		CloseHeight:  height,
		State:        models.RoundStateOpen,
		OpenedAt:     time.Now(),
		CutoffAt:     cutoff,
	}))
}

func (s *testServer) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(userID, "sess", time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestGetCurrentRound(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/hashgames/oddeven/round/current", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.openRound(t, models.GameTypeOddEven, 201, time.Now().Add(10*time.Second))
	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/round/current", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.EqualValues(t, 201, body["targetHeight"])
	assert.EqualValues(t, 201, body["betClosesAtBlock"])
	assert.NotNil(t, body["round"])
	assert.Greater(t, body["secondsUntilClose"].(float64), float64(0))

	w = s.do(http.MethodGet, "/api/v1/hashgames/crash/round/current", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaceBet(t *testing.T) {
	s := newTestServer(t)
	s.openRound(t, models.GameTypeOddEven, 201, time.Now().Add(10*time.Second))
	path := "/api/v1/hashgames/oddeven/bet"

	w := s.do(http.MethodPost, path, "", gin.H{"amount": "10", "choice": "ODD"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok := s.token(t, 77)
	w = s.do(http.MethodPost, path, tok, gin.H{"amount": "10", "choice": "ODD"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 201, body["roundId"])
	assert.EqualValues(t, 201, body["blockNum"])
	betID := body["betId"].(string)
	assert.NotEmpty(t, betID)

	w = s.do(http.MethodPost, path, tok, gin.H{"amount": "0", "choice": "ODD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_BET", decode(t, w)["code"])

	w = s.do(http.MethodPost, path, tok, gin.H{"amount": "ten", "choice": "ODD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, path, tok, gin.H{"amount": "10", "choice": "TIE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/bets/"+betID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/bets/"+betID, s.token(t, 78), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/bets?limit=5", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = s.do(http.MethodGet, "/api/v1/me", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]interface{})
	assert.EqualValues(t, 1, stats["open_bets"])
}

func TestPlaceBetAfterCutoff(t *testing.T) {
	s := newTestServer(t)
	s.openRound(t, models.GameTypeBankerPlayer, 201, time.Now().Add(-time.Second))

	w := s.do(http.MethodPost, "/api/v1/hashgames/bankerplayer/bet", s.token(t, 5), gin.H{"amount": "10", "choice": "BANKER"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ROUND_CLOSED", decode(t, w)["code"])
}

func TestVerifyBlockEndpoint(t *testing.T) {
	s := newTestServer(t)
	path := "/api/v1/hashgames/oddeven/verify"

	w := s.do(http.MethodPost, path, "", gin.H{"blockId": "0000000004673d8a3f9", "claimedResult": "ODD"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "9", body["lastChar"])
	assert.Equal(t, true, body["matches"])
	assert.Equal(t, "ODD", body["derivedResult"])

	w = s.do(http.MethodPost, path, "", gin.H{"blockId": "0000000004673d8a3f9", "claimedResult": "EVEN"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "FAIRNESS_MISMATCH", decode(t, w)["code"])

	// a result oddeven can never produce is a bad request, not an integrity alarm
	w = s.do(http.MethodPost, path, "", gin.H{"blockId": "0000000004673d8a3f9", "claimedResult": "BANKER"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RESULT", decode(t, w)["code"])

	w = s.do(http.MethodPost, path, "", gin.H{"blockId": "xyz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_BLOCK_ID", decode(t, w)["code"])

	w = s.do(http.MethodPost, path, "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoundResultAndVerify(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	now := time.Now()

	s.openRound(t, models.GameTypeOddEven, 150, now)
	next := &models.Round{
		GameType: models.GameTypeOddEven, Rule: "oddeven-lastchar-v1",
		TargetHeight: 151, CloseHeight: 151, State: models.RoundStateOpen, OpenedAt: now, CutoffAt: now,
	}
	_, err := s.store.RollRound(ctx, models.GameTypeOddEven, 150, next, now)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/api/v1/hashgames/oddeven/round/150/result", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/round/150/verify", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ROUND_NOT_SETTLED", decode(t, w)["code"])

	// stored result disagrees with the block id
	_, _, err = s.store.SettleRound(ctx, models.GameTypeOddEven, 150, "00000000000000096d00ab", models.OutcomeOdd, now)
	require.NoError(t, err)

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/round/150/result", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "settled", body["status"])
	assert.Equal(t, "b", body["lastChar"])
	assert.Equal(t, "https://tronscan.org/#/block/150", body["explorerUrl"])

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/round/150/verify", "", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	body = decode(t, w)
	assert.Equal(t, "FAIRNESS_MISMATCH", body["code"])
	rec := body["verification"].(map[string]interface{})
	assert.Equal(t, "EVEN", rec["derivedResult"])
	assert.Equal(t, "ODD", rec["claimedResult"])
	assert.EqualValues(t, 150, rec["blockNum"])

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/round/999/result", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/round/abc/result", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/hashgames/oddeven/rounds/history?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])
}

func TestWebSocketStreamsRoundEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):] + "/api/v1/ws?token=" + s.token(t, 9)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(handlers.Message{Type: "PING"}))
	var pong handlers.Message
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "PONG", pong.Type)

	round := &models.Round{GameType: models.GameTypeOddEven, TargetHeight: 300, State: models.RoundStateOpen}
	require.NoError(t, s.ws.Broadcast(context.Background(), services.Event{
		Type: services.EventRoundOpened, GameType: models.GameTypeOddEven, Round: round, Timestamp: time.Now(),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg handlers.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(services.EventRoundOpened), msg.Type)
	assert.Equal(t, models.GameTypeOddEven, msg.Game)
}

func TestWebSocketBroadcastNeverBlocks(t *testing.T) {
	ws := handlers.NewWebSocketHandler(zap.NewNop())
	e := services.Event{Type: services.EventRoundOpened, GameType: models.GameTypeOddEven, Timestamp: time.Now()}

	// hub not pumping: the queue fills up and further events are dropped
	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 101 && err == nil; i++ {
			err = ws.Broadcast(context.Background(), e)
		}
		done <- err
	}()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full queue")
	}
}

func TestWebSocketAfterShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ws := handlers.NewWebSocketHandler(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- ws.Run(ctx) }()
	cancel()
	require.NoError(t, <-stopped)

	router := gin.New()
	router.GET("/ws", ws.HandleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+srv.URL[len("http"):]+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// the handler closes the connection instead of waiting on the hub
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection was left open")
	}

	assert.NoError(t, ws.Broadcast(context.Background(), services.Event{Type: services.EventRoundOpened}))
}
