package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Kind is the outcome class of a slash command.
type Kind int

const (
	// Reply is answered locally with Outcome.Text.
	Reply Kind = iota
	// Forward sends Outcome.Text upstream unchanged.
	Forward
	// Continue hands the text back to the normal conversational path.
	Continue
)

func (k Kind) String() string {
	switch k {
	case Forward:
		return "forward"
	case Continue:
		return "continue"
	default:
		return "reply"
	}
}

type Outcome struct {
	Kind Kind
	Text string
}

// Approver sends approval decisions upstream.
type Approver interface {
	SendApproval(ctx context.Context, requestID string, approved bool) error
}

// StatusFunc reports a one-line connection summary for /status.
type StatusFunc func() string

type Options struct {
	Version       string
	ResetTriggers []string
	Approver      Approver
	Status        StatusFunc
}

// Handler decides which slash commands the bridge answers itself.
type Handler struct {
	opts Options
}

func NewHandler(opts Options) *Handler {
	return &Handler{opts: opts}
}

// IsCommand reports whether text is a slash command after trimming.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Parse splits "/name args" into a lowercase name and trimmed args.
func Parse(text string) (name, args string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", ""
	}
	parts := strings.SplitN(trimmed[1:], " ", 2)
	name = strings.ToLower(parts[0])
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}

// Handle runs text, which must already be trimmed.
func (h *Handler) Handle(ctx context.Context, text string) Outcome {
	if h.isResetTrigger(text) {
		return Outcome{Kind: Continue, Text: text}
	}

	name, args := Parse(text)
	log.Debug().Str("command", name).Str("args", args).Msg("commands.Handler.Handle")

	switch name {
	case "help":
		return Outcome{Kind: Reply, Text: helpText}
	case "commands":
		return Outcome{Kind: Reply, Text: commandsText}
	case "version":
		return Outcome{Kind: Reply, Text: h.versionText()}
	case "status":
		return Outcome{Kind: Reply, Text: h.statusText()}
	case "skill", "skills":
		if args == "" {
			return Outcome{Kind: Reply, Text: skillsText()}
		}
		return Outcome{Kind: Forward, Text: text}
	case "approve":
		return Outcome{Kind: Reply, Text: h.approve(ctx, args)}
	default:
		return Outcome{Kind: Forward, Text: text}
	}
}

func (h *Handler) isResetTrigger(text string) bool {
	for _, trigger := range h.opts.ResetTriggers {
		if text == trigger || strings.HasPrefix(text, trigger+" ") {
			return true
		}
	}
	return false
}

func (h *Handler) versionText() string {
	v := h.opts.Version
	if v == "" {
		v = "dev"
	}
	return "clawbridge " + v
}

func (h *Handler) statusText() string {
	if h.opts.Status == nil {
		return "Status unavailable"
	}
	return h.opts.Status()
}

const approveUsage = "Usage: /approve <request-id> [yes|no]"

func (h *Handler) approve(ctx context.Context, args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return approveUsage
	}
	requestID := fields[0]
	approved := true
	if len(fields) > 1 {
		switch strings.ToLower(fields[1]) {
		case "yes", "y", "approve":
		default:
			approved = false
		}
	}
	if h.opts.Approver == nil {
		return "Error: approvals are not available"
	}
	if err := h.opts.Approver.SendApproval(ctx, requestID, approved); err != nil {
		log.Warn().Str("request_id", requestID).Err(err).Msg("commands.Handler.approve failed")
		return fmt.Sprintf("Error: %v", err)
	}
	status := "approved"
	if !approved {
		status = "denied"
	}
	return fmt.Sprintf("Request %s has been %s", requestID, status)
}

const helpText = `**Available Commands:**

/help - Show this help message
/commands - List all available commands
/version - Show the bridge version
/status - Show connection status
/skill [name] - List skills or run a specific skill
/approve <id> [yes|no] - Approve or deny a pending request
/new, /reset - Start a fresh session`

const commandsText = `**Available Commands:**

**Status**
  /help - Show this help message
  /commands - List all available commands
  /version - Show the bridge version
  /status - Show current connection status

**Tools**
  /skill - List all available skills
  /skill <name> [args] - Run a specific skill

**Management**
  /approve <id> [yes|no] - Approve or deny execution requests
  /new, /reset [text] - Start a fresh session`

var builtinSkills = []struct {
	name        string
	description string
}{
	{"web-search", "Search the web for information"},
	{"read-file", "Read and analyze file contents"},
	{"write-file", "Create or modify files"},
	{"bash", "Execute shell commands"},
	{"ask-human", "Ask the user for clarification"},
}

func skillsText() string {
	var b strings.Builder
	b.WriteString("**Available Skills:**\n\n")
	for _, skill := range builtinSkills {
		fmt.Fprintf(&b, "**%s** - %s\n  Usage: `/skill %s [args]`\n", skill.name, skill.description, skill.name)
	}
	b.WriteString("\nUse `/skill <name> <args>` to run a skill")
	return b.String()
}
