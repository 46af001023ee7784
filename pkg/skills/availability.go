package skills

import (
	"os/exec"
	"strings"
	"unicode"
)

// RequiresCommandsKey is the metadata key listing external commands a skill
// needs. Values are separated by commas and/or whitespace.
const RequiresCommandsKey = "requires-commands"

// AvailabilityChecker decides whether a package can be used in the current
// environment. A false result must come with a human readable reason.
type AvailabilityChecker interface {
	Check(p *DiscoveredPackage) (available bool, reason string)
}

// AvailabilityFunc adapts a function to AvailabilityChecker.
type AvailabilityFunc func(p *DiscoveredPackage) (bool, string)

// Check implements AvailabilityChecker.
func (f AvailabilityFunc) Check(p *DiscoveredPackage) (bool, string) {
	return f(p)
}

// CommandChecker marks packages unavailable when a command listed under
// RequiresCommandsKey cannot be found.
type CommandChecker struct {
	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// Check implements AvailabilityChecker.
func (c CommandChecker) Check(p *DiscoveredPackage) (bool, string) {
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var missing []string
	for _, cmd := range RequiredCommands(p.Manifest) {
		if _, err := lookPath(cmd); err != nil {
			missing = append(missing, cmd)
		}
	}
	if len(missing) > 0 {
		return false, "missing required commands: " + strings.Join(missing, ", ")
	}
	return true, ""
}

// RequiredCommands returns the commands declared under RequiresCommandsKey.
func RequiredCommands(m *Manifest) []string {
	if m == nil || m.Metadata == nil {
		return nil
	}
	return strings.FieldsFunc(m.Metadata[RequiresCommandsKey], func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}
