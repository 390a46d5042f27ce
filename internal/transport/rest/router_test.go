package rest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/catalog"
	"hrtrainer/internal/config"
	"hrtrainer/internal/llm"
	"hrtrainer/internal/llm/llmtest"
	"hrtrainer/internal/model"
	"hrtrainer/internal/prompts"
	"hrtrainer/internal/service"
	"hrtrainer/internal/store"
	"hrtrainer/internal/transport/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCatalog = `{"products": {"汇仁肾宝片": {"initial_symptom": "最近总是腰酸腿软",
  "产品说明": {"功能主治": "温阳补肾"}, "价目表": [{"商品规格": "126片/盒", "零售价": 199}]}}}`

const evaluationReply = "```json\n" + `{"total_score": 86, "professionalism": 85, "communication": 88,
"problem_solving": 84, "service_attitude": 90, "strengths": ["耐心"], "improvements": ["多问症状"],
"overall_comment": "不错"}` + "\n```"

type testServer struct {
	*httptest.Server
	fake *llmtest.Fake
	hub  *ws.Hub
	st   *store.SessionStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	cat, err := catalog.Parse(strings.NewReader(testCatalog))
	require.NoError(t, err)
	p, err := prompts.New("")
	require.NoError(t, err)

	fake := &llmtest.Fake{
		Chunks: []string{"那这个药", "多少钱？"},
		CompleteFunc: func(req llm.Request) (string, error) {
			if req.MaxTokens == 1000 {
				return evaluationReply, nil
			}
			return "医生，我腰酸", nil
		},
	}
	st := store.NewSessionStore(archive.NewFileArchive(t.TempDir(), log), log)
	hub := ws.NewHub(log)
	t.Cleanup(hub.Close)

	engine := service.NewConversationEngine(st, cat, fake, p, log)
	engine.SetBroadcaster(hub)
	evaluator := service.NewEvaluationPipeline(st, cat, fake, p, log)
	evaluator.SetBroadcaster(hub)

	srv := httptest.NewServer(NewRouter(&Container{
		Engine:    engine,
		Evaluator: evaluator,
		Store:     st,
		WSHub:     hub,
		Server:    config.Default().Server,
		Metrics:   true,
		Log:       log,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, fake: fake, hub: hub, st: st}
}

func (s *testServer) start(t *testing.T) startResult {
	t.Helper()
	resp, err := http.Post(s.URL+"/api/start_chat", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out startResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type startResult struct {
	SessionID      string `json:"session_id"`
	InitialMessage string `json:"initial_message"`
	TargetProduct  string `json:"target_product"`
}

func readSSE(t *testing.T, resp *http.Response) []service.Event {
	t.Helper()
	var events []service.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev service.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestTrainingFlow(t *testing.T) {
	s := newTestServer(t)

	started := s.start(t)
	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, "医生，我腰酸", started.InitialMessage)
	assert.Equal(t, "汇仁肾宝片", started.TargetProduct)

	resp, err := http.Get(s.URL + "/api/send_message?session_id=" + started.SessionID + "&message=" + "%E4%BD%A0%E5%A5%BD")
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	events := readSSE(t, resp)
	resp.Body.Close()
	assert.Equal(t, []service.Event{{Content: "那这个药"}, {Content: "多少钱？"}, {Done: true}}, events)

	body, _ := json.Marshal(map[string]string{"session_id": started.SessionID})
	resp, err = http.Post(s.URL+"/api/end_chat", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ended struct {
		Evaluation model.Evaluation `json:"evaluation"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ended))
	resp.Body.Close()
	assert.Equal(t, 86, ended.Evaluation.TotalScore)
	assert.Equal(t, "汇仁肾宝片", ended.Evaluation.TargetProduct)

	resp, err = http.Get(s.URL + "/api/session/" + started.SessionID)
	require.NoError(t, err)
	var sess model.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	resp.Body.Close()
	assert.Equal(t, model.SessionCompleted, sess.Status)
	require.Len(t, sess.Transcript, 3)
	assert.Equal(t, "你好", sess.Transcript[1].Text)
	assert.Equal(t, "那这个药多少钱？", sess.Transcript[2].Text)

	resp, err = http.Get(s.URL + "/api/sessions")
	require.NoError(t, err)
	var listed struct {
		Sessions []model.SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Sessions, 1)
	require.NotNil(t, listed.Sessions[0].Score)
	assert.Equal(t, 86, *listed.Sessions[0].Score)
}

func TestSendMessageErrors(t *testing.T) {
	s := newTestServer(t)
	started := s.start(t)

	resp, err := http.Get(s.URL + "/api/send_message?session_id=" + started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "缺少必要参数", errorBody(t, resp))

	resp, err = http.Get(s.URL + "/api/send_message?session_id=nope&message=hi")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "会话不存在", errorBody(t, resp))
}

func TestEndChatErrors(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Post(s.URL+"/api/end_chat", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "缺少会话ID", errorBody(t, resp))

	resp, err = http.Post(s.URL+"/api/end_chat", "application/json", strings.NewReader(`{"session_id":"nope"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	started := s.start(t)
	body := `{"session_id":"` + started.SessionID + `"}`
	resp, err = http.Post(s.URL+"/api/end_chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(s.URL+"/api/end_chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "会话已结束", errorBody(t, resp))
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/api/session/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "会话不存在", errorBody(t, resp))
}

func TestHealthMetricsAndCORS(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ := http.NewRequest(http.MethodOptions, s.URL+"/api/start_chat", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, s.fake.Requests())

	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func wsURL(s *testServer, path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

func TestChatAndWatchSockets(t *testing.T) {
	s := newTestServer(t)
	started := s.start(t)
	base := "/api/ws/sessions/" + started.SessionID

	watch, _, err := websocket.DefaultDialer.Dial(wsURL(s, base+"/watch"), nil)
	require.NoError(t, err)
	defer watch.Close()
	require.Eventually(t, func() bool { return s.hub.Watchers(started.SessionID) == 1 }, time.Second, 10*time.Millisecond)

	chat, _, err := websocket.DefaultDialer.Dial(wsURL(s, base+"/chat"), nil)
	require.NoError(t, err)
	defer chat.Close()

	require.NoError(t, chat.WriteJSON(ws.ChatFrame{Message: "哪里不舒服？"}))
	var got []service.Event
	for {
		var ev service.Event
		require.NoError(t, chat.ReadJSON(&ev))
		got = append(got, ev)
		if ev.Done || ev.Error != "" {
			break
		}
	}
	assert.Equal(t, []service.Event{{Content: "那这个药"}, {Content: "多少钱？"}, {Done: true}}, got)

	require.NoError(t, chat.WriteJSON(ws.ChatFrame{Message: ""}))
	var bad service.Event
	require.NoError(t, chat.ReadJSON(&bad))
	assert.Equal(t, "缺少必要参数", bad.Error)

	var types []string
	watch.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(types) < 4 {
		var msg ws.Message
		require.NoError(t, watch.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{
		service.MsgAgentMessage,
		service.MsgPatientChunk,
		service.MsgPatientChunk,
		service.MsgPatientDone,
	}, types)
}

func TestSocketUnknownSession(t *testing.T) {
	s := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(s, "/api/ws/sessions/missing/chat"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
