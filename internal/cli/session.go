package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mcoot/typerace/internal/model"
)

// replyTimeout bounds the wait for a command's echoed reply
const replyTimeout = 10 * time.Second

func newSessionCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open an interactive game session",
		Long: `Open a WebSocket session with the server and send commands typed on stdin.

Each line is an event name optionally followed by a JSON payload:

  create_game
  join_game {"gameId":"ABC123"}
  change_username {"username":"speedy"}
  finish_game {"wpm":72,"accuracy":97.5,"time":41.2}

The session connects with the player id saved by the previous session and
saves the id the server hands back. Every command waits for its reply; all
frames received, broadcasts included, are printed as they arrive. Type
"quit" or close stdin to end the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.LoadPlayerID(); err != nil {
				return fmt.Errorf("read player file: %w", err)
			}
			s, err := dialSession(cmd.Context(), newOutput(cmd), timeout)
			if err != nil {
				return err
			}
			defer s.close()
			return s.run(cmd.Context(), cmd.InOrStdin())
		},
	}

	cmd.Flags().DurationVar(&timeout, "reply-timeout", replyTimeout, "How long each command waits for its reply")

	return cmd
}

// session is one interactive connection to the game socket
type session struct {
	conn     *websocket.Conn
	out      *Output
	timeout  time.Duration
	incoming chan model.Envelope
	done     chan struct{}
	readErr  error
}

func dialSession(ctx context.Context, out *Output, timeout time.Duration) (*session, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.WebSocketURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.WebSocketURL(), err)
	}

	s := &session{
		conn:     conn,
		out:      out,
		timeout:  timeout,
		incoming: make(chan model.Envelope, 64),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *session) close() {
	close(s.done)
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = s.conn.Close()
}

// readLoop owns all reads; incoming is closed when the socket ends
func (s *session) readLoop() {
	defer close(s.incoming)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.readErr = err
			}
			return
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case s.incoming <- env:
		case <-s.done:
			return
		}
	}
}

func (s *session) run(ctx context.Context, in io.Reader) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-s.incoming:
			if !ok {
				return s.closed()
			}
			s.out.PrintEvent(env)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := s.handleLine(ctx, line)
			if err != nil || done {
				return err
			}
		}
	}
}

// connect binds the socket to the saved player, or a fresh one, and saves
// the id the server settles on
func (s *session) connect(ctx context.Context) error {
	if err := s.send(model.EventConnect, model.ConnectRequest{PlayerID: cfg.PlayerID}); err != nil {
		return err
	}
	env, err := s.await(ctx, model.EventConnect)
	if err != nil {
		return err
	}
	if env.Event == model.EventError {
		return fmt.Errorf("connect rejected: %s", describeEvent(env))
	}

	var resp model.ConnectResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return fmt.Errorf("decode connect reply: %w", err)
	}
	if resp.PlayerID != cfg.PlayerID {
		if err := cfg.SavePlayerID(resp.PlayerID); err != nil {
			return fmt.Errorf("save player id: %w", err)
		}
	}
	if cfg.Verbose && resp.ExistingGameID != nil {
		s.out.PrintMessage("resumed game " + *resp.ExistingGameID)
	}
	return nil
}

func (s *session) handleLine(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false, nil
	}

	event, payload, err := parseCommand(line)
	if err != nil {
		s.out.PrintError(err)
		return false, nil
	}
	switch event {
	case "quit", "exit":
		return true, nil
	}

	if err := s.sendRaw(event, payload); err != nil {
		return false, err
	}
	if event == model.EventPlayerUpdate {
		return false, nil
	}
	_, err = s.await(ctx, event)
	return false, err
}

// await prints frames until the reply to event, or an error, arrives
func (s *session) await(ctx context.Context, event model.EventType) (model.Envelope, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return model.Envelope{}, ctx.Err()
		case <-timer.C:
			return model.Envelope{}, fmt.Errorf("no reply to %s within %s", event, s.timeout)
		case env, ok := <-s.incoming:
			if !ok {
				return model.Envelope{}, s.closed()
			}
			s.out.PrintEvent(env)
			if env.Event == event || env.Event == model.EventError {
				return env, nil
			}
		}
	}
}

func (s *session) closed() error {
	if s.readErr != nil {
		return fmt.Errorf("connection lost: %w", s.readErr)
	}
	return errors.New("server closed the session")
}

func (s *session) send(event model.EventType, payload any) error {
	frame, err := model.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *session) sendRaw(event model.EventType, payload json.RawMessage) error {
	frame, err := json.Marshal(model.Envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// parseCommand splits "event {json}" into its parts
func parseCommand(line string) (model.EventType, json.RawMessage, error) {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return model.EventType(name), json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(rest)) {
		return "", nil, fmt.Errorf("payload for %s is not valid JSON", name)
	}
	return model.EventType(name), json.RawMessage(rest), nil
}
