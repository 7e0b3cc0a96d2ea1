package debate

import (
	"fmt"
	"strings"

	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/provider"
)

// voteMarker and confidenceMarker are the line prefixes voters and judges
// must use; tallying parses them case-insensitively.
const (
	voteMarker       = "VOTE:"
	confidenceMarker = "CONFIDENCE:"
)

func systemPrompt(agentStyle, role, task string) string {
	var sb strings.Builder
	sb.WriteString("You are one voice in a structured multi-agent debate. ")
	switch role {
	case models.RoleResearcher:
		sb.WriteString("Survey the factual ground for the task. Lay out evidence, constraints, and prior art without advocating a position.")
	case models.RoleProposer:
		sb.WriteString("Propose a concrete, committed answer to the task. State your position plainly and justify it.")
	case models.RoleCritic:
		sb.WriteString("Critique the other proposals. Identify concrete weaknesses, missing considerations, and overclaims. Do not propose your own answer.")
	case models.RoleReviser:
		sb.WriteString("Revise your earlier proposal in light of the critiques. Keep what held up, fix what did not, and say what changed.")
	case models.RoleVoter:
		sb.WriteString("Vote for the strongest final proposal, including your own only if it is genuinely strongest. ")
		sb.WriteString(fmt.Sprintf("End with two lines: %q followed by the proposing agent's name, and %q followed by a number between 0 and 1.", voteMarker, confidenceMarker))
	case models.RoleJudge:
		sb.WriteString("You are the judge. Weigh the final proposals and critiques, then decide. ")
		sb.WriteString(fmt.Sprintf("End with two lines: %q followed by the winning agent's name, and %q followed by a number between 0 and 1.", voteMarker, confidenceMarker))
	}
	if agentStyle != "" {
		sb.WriteString(" Style guidance: ")
		sb.WriteString(agentStyle)
	}
	sb.WriteString("\n\nTask under debate: ")
	sb.WriteString(task)
	return sb.String()
}

// turnMessages builds the conversation an agent sees for its next turn: the
// debate transcript so far, with the agent's own messages as assistant turns.
func turnMessages(agent string, transcript []models.DebateMessage, instruction string) []provider.Message {
	msgs := make([]provider.Message, 0, len(transcript)+1)
	for _, m := range transcript {
		role := "user"
		content := fmt.Sprintf("[round %d, %s %s]\n%s", m.Round, m.Agent, m.Role, m.Content)
		if m.Agent == agent {
			role = "assistant"
			content = m.Content
		}
		msgs = append(msgs, provider.Message{Role: role, Content: content})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: instruction})
	return msgs
}

func phaseInstruction(phase models.Phase, round int) string {
	switch phase {
	case models.PhaseResearch:
		return fmt.Sprintf("Round %d: before arguing, list the key facts and constraints bearing on the task. Take no position yet.", round)
	case models.PhasePropose:
		if round == 1 {
			return "Round 1: state your initial proposal."
		}
		return fmt.Sprintf("Round %d: state your current proposal, updated from the prior round.", round)
	case models.PhaseCritique:
		return fmt.Sprintf("Round %d: critique the other agents' proposals above.", round)
	case models.PhaseRevise:
		return fmt.Sprintf("Round %d: revise your proposal given the critiques above.", round)
	default:
		return "Continue the debate."
	}
}

// parseVote extracts the voted-for agent and confidence from a voter or
// judge response. Returns ok=false when no vote marker is present.
func parseVote(content string, candidates []string) (choice string, confidence float64, ok bool) {
	confidence = 0.5
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, voteMarker):
			name := strings.TrimSpace(line[len(voteMarker):])
			name = strings.Trim(name, `"'.`)
			for _, c := range candidates {
				if strings.EqualFold(c, name) {
					choice = c
					ok = true
				}
			}
		case strings.HasPrefix(upper, confidenceMarker):
			var v float64
			if _, err := fmt.Sscanf(line[len(confidenceMarker):], "%f", &v); err == nil && v >= 0 && v <= 1 {
				confidence = v
			}
		}
	}
	return choice, confidence, ok
}
