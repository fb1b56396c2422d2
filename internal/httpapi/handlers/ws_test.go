package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storyforge/internal/story"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchStory_PushesUntilTerminal(t *testing.T) {
	svc := newFakeService()
	svc.set(story.Status{JobID: "job-ws", State: story.StateProcessing, Progress: 25, Message: "Deriving scene prompts..."})

	srv := httptest.NewServer(newTestRouter(svc))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stories/job-ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// First snapshot arrives immediately.
	var first story.Status
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 25, first.Progress)

	// Complete the job, then read until the terminal snapshot shows up.
	svc.set(story.Status{JobID: "job-ws", State: story.StateCompleted, Progress: 100, OutputFile: "job-ws.mp4"})

	var last story.Status
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		var st story.Status
		if err := conn.ReadJSON(&st); err != nil {
			break
		}
		last = st
		if st.State.Terminal() && last.Progress == 100 {
			// Keep reading for the delayed final push until the server
			// closes the connection.
			continue
		}
	}

	assert.Equal(t, story.StateCompleted, last.State)
	assert.Equal(t, "job-ws.mp4", last.OutputFile)
}

func TestWatchStory_UnknownJob(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(newFakeService()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stories/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWatchStory_TerminalJobGetsFinalPush(t *testing.T) {
	svc := newFakeService()
	svc.set(story.Status{JobID: "job-done", State: story.StateFailed, Progress: 35, Error: "images: no images could be rendered"})

	srv := httptest.NewServer(newTestRouter(svc))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stories/job-done"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var st story.Status
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, story.StateFailed, st.State)
	assert.Contains(t, st.Error, "no images")

	// The delayed final snapshot follows, then the server closes.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, story.StateFailed, st.State)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	err = conn.ReadJSON(&st)
	require.Error(t, err, "connection closes after the final push")
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
