package tools

import "github.com/ponderer/ponderer/internal/errors"

// Profile names a capability context a tool call runs under.
type Profile string

const (
	ProfilePrivateChat Profile = "private_chat"
	ProfileSkillEvents Profile = "skill_events"
	ProfileHeartbeat   Profile = "heartbeat"
	ProfileAmbient     Profile = "ambient"
	ProfileDream       Profile = "dream"
)

// capability is one profile's stance. An empty allowed set means
// everything not denied; deny always wins.
type capability struct {
	autonomous bool
	allowed    map[string]bool
	denied     map[string]bool
}

var profiles = map[Profile]capability{
	ProfilePrivateChat: {
		autonomous: false,
	},
	ProfileSkillEvents: {
		autonomous: true,
	},
	ProfileHeartbeat: {
		autonomous: true,
		denied:     set(ToolShell, ToolWriteFile, ToolPatchFile),
	},
	ProfileAmbient: {
		autonomous: true,
		allowed:    set(ToolReadFile, ToolListDirectory, ToolSearchMemory, ToolHTTPFetch),
		denied:     set(ToolShell, ToolWriteFile, ToolPatchFile, ToolPostMessage, ToolWriteMemory),
	},
	ProfileDream: {
		autonomous: true,
		allowed:    set(ToolReadFile, ToolListDirectory, ToolSearchMemory, ToolWriteMemory),
		denied:     set(ToolShell, ToolPostMessage, ToolHTTPFetch),
	},
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// CheckCapability reports whether profile may invoke tool. Denial is a
// typed error so callers can surface it without side effects.
func CheckCapability(p Profile, tool string) error {
	c, ok := profiles[p]
	if !ok {
		return errors.NewCapabilityDenied(string(p), tool)
	}
	if c.denied[tool] {
		return errors.NewCapabilityDenied(string(p), tool)
	}
	if len(c.allowed) > 0 && !c.allowed[tool] {
		return errors.NewCapabilityDenied(string(p), tool)
	}
	return nil
}

// Autonomous reports whether the profile acts without operator
// approval.
func Autonomous(p Profile) bool {
	return profiles[p].autonomous
}

// approvalRequired lists tools an operator-facing profile must hold
// explicit session approval for, on top of the capability gate.
var approvalRequired = set(ToolShell, ToolWriteFile, ToolPatchFile)

// NeedsApproval reports whether invoking tool under profile requires
// operator approval.
func NeedsApproval(p Profile, tool string) bool {
	return !Autonomous(p) && approvalRequired[tool]
}
