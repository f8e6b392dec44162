package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mcoot/typerace/internal/api/response"
	"github.com/mcoot/typerace/internal/model"
)

// maxPayloadWidth truncates unrecognized payloads in text mode
const maxPayloadWidth = 100

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
	errW   io.Writer
	now    func() time.Time
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w, errW io.Writer) *Output {
	return &Output{format: format, w: w, errW: errW, now: time.Now}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data, "  ")
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]any{
			"error": map[string]string{"message": err.Error()},
		})
		_, _ = fmt.Fprintln(o.errW, string(data))
	} else {
		_, _ = fmt.Fprintf(o.errW, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.w, string(data))
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

// PrintEvent outputs one frame received on a session. JSON mode writes one
// envelope per line.
func (o *Output) PrintEvent(env model.Envelope) {
	if o.format == "json" {
		o.printJSON(env, "")
		return
	}
	_, _ = fmt.Fprintf(o.w, "[%s] %s: %s\n", o.now().Format("15:04:05"), env.Event, describeEvent(env))
}

func (o *Output) printJSON(data any, indent string) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", indent)
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.Health:
		o.printHealth(v)
	case response.Game:
		o.printGame(v)
	default:
		o.printJSON(data, "  ")
	}
}

func (o *Output) printHealth(h response.Health) {
	_, _ = fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(o.w, "  %s: %s\n", name, h.Checks[name])
	}
}

func (o *Output) printGame(g response.Game) {
	_, _ = fmt.Fprintf(o.w, "Game: %s\n", g.GameID)
	if !g.Exists {
		_, _ = fmt.Fprintln(o.w, "Exists: no")
		return
	}
	joinable := "no"
	if g.Joinable {
		joinable = "yes"
	}
	_, _ = fmt.Fprintf(o.w, "Status: %s\n", g.Status)
	_, _ = fmt.Fprintf(o.w, "Players: %d\n", g.Players)
	_, _ = fmt.Fprintf(o.w, "Joinable: %s\n", joinable)
}

// describeEvent renders the payloads a player cares about as prose and
// falls back to the raw JSON for the rest
func describeEvent(env model.Envelope) string {
	switch env.Event {
	case model.EventError:
		var p model.ErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return p.Message
		}
	case model.EventGameStarting:
		var p model.GameStartingPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("race %s begins soon: %q", p.GameID, p.Text)
		}
	case model.EventGameCountdown:
		var p model.CountdownPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("%d...", p.Count)
		}
	case model.EventGetLobby:
		var p model.LobbyResponse
		if json.Unmarshal(env.Payload, &p) == nil {
			return describeLobby(p)
		}
	case model.EventFinishGame:
		var p model.FinishGamePayload
		if json.Unmarshal(env.Payload, &p) == nil && len(p.Results) > 0 {
			return describeResults(p.Results)
		}
	}

	raw := strings.ReplaceAll(string(env.Payload), "\n", " ")
	if len(raw) > maxPayloadWidth {
		raw = raw[:maxPayloadWidth] + "..."
	}
	return raw
}

func describeLobby(l model.LobbyResponse) string {
	names := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		name := p.Username
		if p.IsHost {
			name += " [host]"
		}
		names = append(names, name)
	}
	return fmt.Sprintf("%s (%s): %s", l.GameID, l.Status, strings.Join(names, ", "))
}

func describeResults(results []model.ResultPayload) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		who := r.Username
		if who == "" {
			who = r.PlayerID
		}
		lines = append(lines, fmt.Sprintf("#%d %s %.0f wpm %.0f%%", r.Rank, who, r.WPM, r.Accuracy))
	}
	return strings.Join(lines, "; ")
}
