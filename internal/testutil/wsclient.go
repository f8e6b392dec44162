package testutil

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/typerace/internal/model"
)

// WSTimeout bounds every read made by WSClient
const WSTimeout = 3 * time.Second

// WSClient is a minimal game client for tests
type WSClient struct {
	t    testing.TB
	conn *websocket.Conn
}

// WSURL converts an httptest server URL into the game socket URL
func WSURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// DialWS opens a socket and closes it when the test ends
func DialWS(t testing.TB, url string) *WSClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c := &WSClient{t: t, conn: conn}
	t.Cleanup(c.Close)
	return c
}

// Send writes one event frame
func (c *WSClient) Send(event model.EventType, payload any) {
	c.t.Helper()
	frame, err := model.EncodeEvent(event, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

// SendRaw writes a frame verbatim
func (c *WSClient) SendRaw(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// SendBinary writes a binary frame
func (c *WSClient) SendBinary(data []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.BinaryMessage, data))
}

// Next reads the next frame
func (c *WSClient) Next() (model.Envelope, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(WSTimeout)); err != nil {
		return model.Envelope{}, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return model.Envelope{}, err
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, err
	}
	return env, nil
}

// Expect reads frames until one with the given event arrives. Other events
// are skipped; an unexpected error event fails the test.
func (c *WSClient) Expect(event model.EventType) model.Envelope {
	c.t.Helper()
	for {
		env, err := c.Next()
		require.NoError(c.t, err, "waiting for %s", event)
		if env.Event == event {
			return env
		}
		if env.Event == model.EventError {
			c.t.Fatalf("waiting for %s, got error %s", event, string(env.Payload))
		}
	}
}

// Request sends a command and decodes its echoed reply into dst
func (c *WSClient) Request(event model.EventType, payload any, dst any) {
	c.t.Helper()
	c.Send(event, payload)
	env := c.Expect(event)
	if dst != nil {
		require.NoError(c.t, json.Unmarshal(env.Payload, dst))
	}
}

// ExpectError sends a command and returns the message of the error it causes
func (c *WSClient) ExpectError(event model.EventType, payload any) string {
	c.t.Helper()
	c.Send(event, payload)
	env := c.Expect(model.EventError)
	var body model.ErrorPayload
	require.NoError(c.t, json.Unmarshal(env.Payload, &body))
	return body.Message
}

// Connect binds the socket to a player and returns its id and resumed room
func (c *WSClient) Connect(knownID string) model.ConnectResponse {
	c.t.Helper()
	var resp model.ConnectResponse
	c.Request(model.EventConnect, model.ConnectRequest{PlayerID: knownID}, &resp)
	return resp
}

// Close closes the socket; safe to call more than once
func (c *WSClient) Close() {
	_ = c.conn.Close()
}

// Decode unmarshals an envelope payload
func Decode[T any](t testing.TB, env model.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}
