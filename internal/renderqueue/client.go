package renderqueue

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"storyforge/internal/pkg/errors"
	"storyforge/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State tracks where a render submission is in its lifecycle.
type State string

const (
	StateConnecting State = "connecting"
	StateSubmitted  State = "submitted"
	StatePolling    State = "polling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Renderer submits one image-to-video render and blocks until the
// queue reports the produced clip.
type Renderer interface {
	RenderVideo(ctx context.Context, p RenderParams) (string, error)
}

// Config wires the websocket client to a render queue instance.
type Config struct {
	WSURL        string
	ClientID     string
	Template     Document
	Nodes        NodeMap
	PollInterval time.Duration
	Timeout      time.Duration
}

type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.WithComponent("renderqueue"),
	}
}

type submitRequest struct {
	Prompt   Document `json:"prompt"`
	ClientID string   `json:"client_id"`
}

type pollRequest struct {
	PromptID string `json:"prompt_id"`
	ClientID string `json:"client_id"`
}

type queueMessage struct {
	PromptID string                     `json:"prompt_id,omitempty"`
	Status   string                     `json:"status,omitempty"`
	Error    string                     `json:"error,omitempty"`
	Outputs  map[string]nodeOutput      `json:"outputs,omitempty"`
	NodeErrs map[string]json.RawMessage `json:"node_errors,omitempty"`
}

type nodeOutput struct {
	Images []outputFile `json:"images,omitempty"`
	Gifs   []outputFile `json:"gifs,omitempty"`
}

type outputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// RenderVideo dials the queue, submits the workflow built from p, and
// polls until the render completes. It returns the clip filename the
// queue wrote into its shared output directory.
func (c *Client) RenderVideo(ctx context.Context, p RenderParams) (string, error) {
	if p.Seed == 0 {
		p.Seed = time.Now().UnixNano()
	}
	doc := BuildWorkflow(c.cfg.Template, c.cfg.Nodes, p)

	state := StateConnecting
	c.log.Debug("dialing render queue", "url", c.cfg.WSURL, "state", string(state))

	conn, err := c.dial(ctx)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeQueueProtocol, "renderqueue.RenderVideo", "dial render queue")
	}
	defer conn.Close()

	// Unblock reads when the caller gives up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(submitRequest{Prompt: doc, ClientID: c.cfg.ClientID}); err != nil {
		return "", errors.WrapWithCode(err, errors.CodeQueueProtocol, "renderqueue.RenderVideo", "submit workflow")
	}

	deadline := time.Now().Add(c.cfg.Timeout)

	promptID, err := c.awaitPromptID(conn, deadline)
	if err != nil {
		return "", err
	}
	state = StateSubmitted
	c.log.Debug("workflow accepted", "prompt_id", promptID, "state", string(state))

	state = StatePolling
	filename, err := c.pollUntilDone(ctx, conn, promptID, deadline)
	if err != nil {
		state = StateFailed
		c.log.Warn("render failed", "prompt_id", promptID, "state", string(state), "error", err)
		return "", err
	}

	state = StateDone
	c.log.Info("render complete", "prompt_id", promptID, "clip", filename, "state", string(state))
	return filename, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.WSURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("clientId", c.cfg.ClientID)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// awaitPromptID reads the queue's response to the submission. The
// first parseable message must carry a prompt_id; anything else is a
// protocol failure. Unparseable frames are skipped.
func (c *Client) awaitPromptID(conn *websocket.Conn, deadline time.Time) (string, error) {
	_ = conn.SetReadDeadline(deadline)
	var msg queueMessage
	if err := c.readMessage(conn, &msg); err != nil {
		return "", err
	}

	if msg.Error != "" || len(msg.NodeErrs) > 0 {
		return "", errors.QueueProtocol("queue rejected workflow: " + msg.Error)
	}
	if msg.PromptID == "" {
		return "", errors.QueueProtocol("queue response missing prompt_id")
	}
	return msg.PromptID, nil
}

func (c *Client) pollUntilDone(ctx context.Context, conn *websocket.Conn, promptID string, deadline time.Time) (string, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "renderqueue.pollUntilDone", "canceled")
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return "", errors.Timeout("render queue poll")
		}

		if err := conn.WriteJSON(pollRequest{PromptID: promptID, ClientID: c.cfg.ClientID}); err != nil {
			return "", errors.WrapWithCode(err, errors.CodeQueueProtocol, "renderqueue.pollUntilDone", "send poll")
		}

		_ = conn.SetReadDeadline(deadline)
		var msg queueMessage
		if err := c.readMessage(conn, &msg); err != nil {
			// Transient receive failures are retried until the
			// deadline expires.
			c.log.Warn("poll receive failed, retrying", "prompt_id", promptID, "error", err)
			continue
		}

		switch {
		case msg.Error != "":
			return "", errors.QueueProtocol("render failed: " + msg.Error)
		case msg.Status == "failed":
			return "", errors.QueueProtocol("render failed")
		case len(msg.Outputs) > 0:
			if name := firstOutputFile(msg.Outputs); name != "" {
				return name, nil
			}
			return "", errors.QueueProtocol("render finished with no output files")
		}
		// Still pending or running, poll again.
	}
}

// readMessage reads one frame, skipping frames that are not valid
// JSON objects. Connection-level failures are fatal.
func (c *Client) readMessage(conn *websocket.Conn, msg *queueMessage) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return errors.WrapWithCode(err, errors.CodeQueueProtocol, "renderqueue.readMessage", "read from queue")
		}
		if err := json.Unmarshal(raw, msg); err != nil {
			c.log.Debug("skipping non-JSON frame from queue", "bytes", len(raw))
			continue
		}
		return nil
	}
}

func firstOutputFile(outputs map[string]nodeOutput) string {
	for _, out := range outputs {
		if len(out.Gifs) > 0 {
			return out.Gifs[0].Filename
		}
		if len(out.Images) > 0 {
			return out.Images[0].Filename
		}
	}
	return ""
}
