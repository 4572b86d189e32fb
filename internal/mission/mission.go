// Package mission renders the mission-context block injected into a turn's
// system prompt when the session is a step in a multi-step mission (§4.8).
//
// The core treats a mission as an opaque struct: missions are scheduled and
// advanced by something external to the reply loop (a mission runner, a CLI
// driver, a higher-level orchestrator). This package only turns that struct
// into prompt text; it does not track step progression itself.
package mission

import (
	"fmt"
	"strings"

	"github.com/jsjm1986/agime/pkg/types"
)

// BuildContextBlock renders the <mission_context> block for session.Mission.
// Returns "" when the session carries no mission, so callers can append the
// result to the system prompt unconditionally.
func BuildContextBlock(m *types.MissionState) string {
	if m == nil || m.Goal == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("<mission_context>\n")
	fmt.Fprintf(&b, "Goal: %s\n", m.Goal)

	if m.AdditionalInfo != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", m.AdditionalInfo)
	}

	if m.Autonomous {
		b.WriteString("Mode: autonomous — proceed through the mission's steps without pausing for confirmation unless a step is explicitly gated.\n")
	} else {
		b.WriteString("Mode: supervised — this mission advances one step per turn; do not skip ahead.\n")
	}

	if m.StepTotal > 0 {
		policy := m.ApprovalPolicy
		if policy == "" {
			policy = "none"
		}
		fmt.Fprintf(&b, "Step %d/%d — Approval policy: %s\n", m.StepCurrent, m.StepTotal, policy)
	}

	b.WriteString("</mission_context>")
	return b.String()
}
