package usecase

import (
	"fmt"

	"curfewd/internal/domain"
)

// Verdict classifies one process instance against one rule.
type Verdict int

const (
	// VerdictMatch: the instance is the configured executable.
	VerdictMatch Verdict = iota
	// VerdictNoMatch: different name, or same name from a different path.
	VerdictNoMatch
	// VerdictUnverifiable: identity could not be established (typically
	// access denied on path resolution). Never enforced: we do not guess.
	VerdictUnverifiable
)

func (v Verdict) String() string {
	switch v {
	case VerdictMatch:
		return "match"
	case VerdictNoMatch:
		return "no_match"
	case VerdictUnverifiable:
		return "unverifiable"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// IdentityVerifier decides whether a running process is a genuine match
// for a rule. Stateless; path resolution goes through the process manager.
type IdentityVerifier struct {
	procs domain.ProcessManager
}

// NewIdentityVerifier creates a verifier backed by the given process manager.
func NewIdentityVerifier(pm domain.ProcessManager) *IdentityVerifier {
	return &IdentityVerifier{procs: pm}
}

// Verify checks p against rule. The name comparison runs first as a cheap
// rejection; the executable path is only resolved for pinned rules.
// The returned detail explains NoMatch/Unverifiable outcomes.
func (v *IdentityVerifier) Verify(rule domain.Rule, p domain.ProcessInfo) (Verdict, string) {
	if !domain.SameProcessName(rule.ProcessName, p.Name) {
		return VerdictNoMatch, "process name differs"
	}
	if !rule.PathPinned || rule.Path == "" {
		return VerdictMatch, ""
	}

	exe, err := v.procs.ResolveExe(p.PID)
	if err != nil {
		return VerdictUnverifiable, fmt.Sprintf("cannot resolve executable path: %v", err)
	}
	if !domain.SamePath(exe, rule.Path) {
		return VerdictNoMatch, fmt.Sprintf("path %s does not match pinned %s", exe, rule.Path)
	}
	return VerdictMatch, ""
}
