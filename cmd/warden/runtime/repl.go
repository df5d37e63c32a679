package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/orchestrator/command"
)

// REPL reads requests from in. Slash commands go to the command handler,
// everything else runs through the orchestrator as role.
type REPL struct {
	components *Components
	commands   command.Handler
	reader     *bufio.Reader
	out        io.Writer
	sessionID  string
	role       string
}

type writerOutput struct {
	w io.Writer
}

func (o writerOutput) Send(ctx context.Context, sessionID string, content string) error {
	_, err := fmt.Fprintln(o.w, content)
	return err
}

func NewREPL(c *Components, sessionID, role string, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		components: c,
		commands:   command.NewHandler(c.Approvals, c.Sessions, writerOutput{w: out}),
		reader:     bufio.NewReader(in),
		out:        out,
		sessionID:  sessionID,
		role:       role,
	}
}

func (r *REPL) Start(ctx context.Context) error {
	fmt.Fprintf(r.out, "Warden session %s (role: %s)\n", r.sessionID, r.role)
	fmt.Fprintln(r.out, "Type /help for commands, /exit to quit.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")
		line, err := r.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		text := strings.TrimSpace(line)
		if text == "/exit" {
			return nil
		}
		if text != "" {
			r.handle(ctx, text)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (r *REPL) handle(ctx context.Context, text string) {
	if r.commands.CanHandle(text) {
		if err := r.commands.Execute(ctx, r.sessionID, text); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		return
	}

	request, data := ParseRequest(text)
	result, err := r.components.Orchestrator.HandleRequest(ctx, r.sessionID, r.role, request, data)
	if err != nil {
		fmt.Fprintln(r.out, DescribeError(err))
		return
	}
	raw, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(r.out, string(raw))
}

// ParseRequest splits key=value tokens into request data. Numeric values
// become floats; everything else stays a string.
func ParseRequest(text string) (string, map[string]any) {
	tokens, err := shlex.Split(text)
	if err != nil {
		return text, nil
	}
	var words []string
	data := map[string]any{}
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			words = append(words, tok)
			continue
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			data[key] = f
			continue
		}
		data[key] = value
	}
	if len(data) == 0 {
		data = nil
	}
	return strings.Join(words, " "), data
}

// DescribeError renders a pipeline failure for a terminal.
func DescribeError(err error) string {
	switch {
	case errors.Is(err, wardenErrors.ErrApprovalRequired):
		return "pending approval: " + err.Error()
	case errors.Is(err, wardenErrors.ErrPermissionDenied):
		return "denied: " + err.Error()
	default:
		return "error: " + err.Error()
	}
}
