package servermgr

import (
	"regexp"

	"github.com/fluidmcp/gateway/internal/errs"
)

// idPattern is the ServerConfig.ID invariant from the data model: a
// URL-safe, lowercase identifier.
var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateID checks a ServerConfig.ID against the data-model invariant.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return errs.New(errs.Validation, "id must match ^[a-z0-9-]+$")
	}
	return nil
}

// validateCommand checks cfg.Command against the allowlist.
func (m *Manager) validateCommand(command string) error {
	if !m.allowed[command] {
		return errs.New(errs.Validation, "command is not in the allowed list: "+command)
	}
	return nil
}
