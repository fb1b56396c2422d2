package renderqueue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storyforge/internal/pkg/errors"
	"storyforge/internal/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// fakeQueue runs handler for each websocket connection.
func fakeQueue(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		WSURL:        url,
		ClientID:     "test-client",
		Template:     testTemplate(),
		Nodes:        testNodes(),
		PollInterval: 10 * time.Millisecond,
		Timeout:      2 * time.Second,
	}, logger.New(logger.Config{Level: "error", Output: io.Discard}))
}

func TestClient_RenderVideo(t *testing.T) {
	var submitted submitRequest

	srv := fakeQueue(t, func(conn *websocket.Conn) {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &submitted))

		// Acknowledge the submission.
		require.NoError(t, conn.WriteJSON(map[string]any{"prompt_id": "p-1"}))

		// Two pending polls, then the finished output.
		for i := 0; i < 2; i++ {
			var poll pollRequest
			require.NoError(t, conn.ReadJSON(&poll))
			assert.Equal(t, "p-1", poll.PromptID)
			require.NoError(t, conn.WriteJSON(map[string]any{"status": "running"}))
		}

		var poll pollRequest
		require.NoError(t, conn.ReadJSON(&poll))
		require.NoError(t, conn.WriteJSON(map[string]any{
			"outputs": map[string]any{
				"50": map[string]any{
					"gifs": []map[string]any{{"filename": "clip_001.mp4", "type": "output"}},
				},
			},
		}))
	})
	defer srv.Close()

	c := newTestClient(wsURL(srv))
	clip, err := c.RenderVideo(context.Background(), RenderParams{
		ImagePath: "/work/img.png",
		Prompt:    "A castle at dawn",
		Seed:      7,
	})
	require.NoError(t, err)
	assert.Equal(t, "clip_001.mp4", clip)

	assert.Equal(t, "test-client", submitted.ClientID)
	assert.Equal(t, "A castle at dawn", submitted.Prompt["6"]["inputs"].(map[string]any)["text"])
}

func TestClient_RenderVideo_SkipsNonJSONFramesBeforeAck(t *testing.T) {
	srv := fakeQueue(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)

		// A non-JSON frame before the ack is skipped.
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		require.NoError(t, conn.WriteJSON(map[string]any{"prompt_id": "p-2"}))

		var poll pollRequest
		require.NoError(t, conn.ReadJSON(&poll))
		require.NoError(t, conn.WriteJSON(map[string]any{
			"outputs": map[string]any{
				"50": map[string]any{"images": []map[string]any{{"filename": "out.webp"}}},
			},
		}))
	})
	defer srv.Close()

	c := newTestClient(wsURL(srv))
	clip, err := c.RenderVideo(context.Background(), RenderParams{Prompt: "p", Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, "out.webp", clip)
}

func TestClient_RenderVideo_MissingPromptIDFailsFast(t *testing.T) {
	srv := fakeQueue(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
		// The queue answers but never acknowledges the submission.
		require.NoError(t, conn.WriteJSON(map[string]any{"status": "queued"}))
	})
	defer srv.Close()

	c := newTestClient(wsURL(srv))

	start := time.Now()
	_, err := c.RenderVideo(context.Background(), RenderParams{Prompt: "p", Seed: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeQueueProtocol))
	assert.Contains(t, err.Error(), "prompt_id")
	assert.Less(t, time.Since(start), time.Second, "a missing ack must not burn the render timeout")
}

func TestClient_RenderVideo_RejectedWorkflow(t *testing.T) {
	srv := fakeQueue(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(map[string]any{
			"error":       "invalid workflow",
			"node_errors": map[string]any{"6": map[string]any{"message": "bad text"}},
		}))
	})
	defer srv.Close()

	c := newTestClient(wsURL(srv))
	_, err := c.RenderVideo(context.Background(), RenderParams{Prompt: "p", Seed: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeQueueProtocol))
	assert.Contains(t, err.Error(), "invalid workflow")
}

func TestClient_RenderVideo_FailureDuringPoll(t *testing.T) {
	srv := fakeQueue(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(map[string]any{"prompt_id": "p-3"}))

		var poll pollRequest
		require.NoError(t, conn.ReadJSON(&poll))
		require.NoError(t, conn.WriteJSON(map[string]any{"status": "failed"}))
	})
	defer srv.Close()

	c := newTestClient(wsURL(srv))
	_, err := c.RenderVideo(context.Background(), RenderParams{Prompt: "p", Seed: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeQueueProtocol))
}

func TestClient_RenderVideo_EmptyOutputs(t *testing.T) {
	srv := fakeQueue(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(map[string]any{"prompt_id": "p-4"}))

		var poll pollRequest
		require.NoError(t, conn.ReadJSON(&poll))
		require.NoError(t, conn.WriteJSON(map[string]any{
			"outputs": map[string]any{"50": map[string]any{"images": []any{}}},
		}))
	})
	defer srv.Close()

	c := newTestClient(wsURL(srv))
	_, err := c.RenderVideo(context.Background(), RenderParams{Prompt: "p", Seed: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output files")
}

func TestClient_RenderVideo_DialFailure(t *testing.T) {
	c := newTestClient("ws://127.0.0.1:1/ws")
	_, err := c.RenderVideo(context.Background(), RenderParams{Prompt: "p", Seed: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeQueueProtocol))
}

func TestClient_RenderVideo_ContextCancel(t *testing.T) {
	srv := fakeQueue(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"prompt_id": "p-5"})
		// Never answer polls.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := newTestClient(wsURL(srv))
	_, err := c.RenderVideo(ctx, RenderParams{Prompt: "p", Seed: 1})
	require.Error(t, err)
}
