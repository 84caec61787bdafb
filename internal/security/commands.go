package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBlockedCommand marks commands rejected by the deny list before any
// process is spawned.
var ErrBlockedCommand = errors.New("command blocked by safety rules")

// CommandChecker rejects shell commands whose damage could not be undone.
// It is a deny list, not a sandbox: commands that pass still run with the
// invoking user's full privileges.
type CommandChecker struct {
	blockedSubstrings []string
	blockedPatterns   []*regexp.Regexp
	systemDirs        []string
}

// NewCommandChecker creates a checker with the default rules.
func NewCommandChecker() *CommandChecker {
	return &CommandChecker{
		blockedSubstrings: []string{
			"rm -rf /",
			"rm -rf /*",
			"rm -rf ~",
			"rm -fr /",
			"dd if=/dev/zero of=/",
			"dd if=/dev/urandom of=/dev/",
			"mkfs.",
			"mkfs ",
			"format c:",
			"> /dev/sda",
			"> /dev/nvme",
			"chmod -R 777 /",
			"chmod -R 000 /",
			":(){ :|:& };:",
			":(){:|:&};:",
			"curl | bash",
			"wget | sh",
			"nc -l",
		},
		blockedPatterns: []*regexp.Regexp{
			// fork bomb shapes beyond the canonical spelling
			regexp.MustCompile(`:\s*\(\s*\)\s*\{`),
			// download piped straight into a shell
			regexp.MustCompile(`(?i)(wget|curl)\s+[^|]*\|\s*(ba)?sh`),
			regexp.MustCompile(`base64\s+-d[^|]*\|\s*(ba)?sh`),
			// rm -rf against expansions that may resolve to /
			regexp.MustCompile(`rm\s+(-[rRf]+\s+)+\$`),
		},
		systemDirs: []string{
			"/etc",
			"/usr",
			"/boot",
			"/proc",
			"/sys",
			"/dev",
			`C:\Windows`,
			`C:\Program Files`,
		},
	}
}

// Check returns ErrBlockedCommand (wrapped with the matched rule) when the
// command hits the deny list, nil otherwise.
func (c *CommandChecker) Check(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("empty command")
	}

	lower := strings.ToLower(command)
	for _, sub := range c.blockedSubstrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return fmt.Errorf("contains %q: %w", sub, ErrBlockedCommand)
		}
	}

	for _, pat := range c.blockedPatterns {
		if pat.MatchString(command) {
			return fmt.Errorf("matches %q: %w", pat.String(), ErrBlockedCommand)
		}
	}

	// Deleting under system directories is blocked even when the exact
	// spelling is not on the list above.
	if strings.Contains(lower, "rm ") || strings.Contains(lower, "del ") {
		for _, dir := range c.systemDirs {
			if strings.Contains(command, dir) {
				return fmt.Errorf("removal under %q: %w", dir, ErrBlockedCommand)
			}
		}
	}

	return nil
}

// defaultCommandChecker holds the default rule set; the checker is
// stateless after construction so sharing is safe.
var defaultCommandChecker = NewCommandChecker()

// DefaultCommandChecker returns the shared checker with the default rules.
func DefaultCommandChecker() *CommandChecker {
	return defaultCommandChecker
}

// CheckCommand is a convenience wrapper over the default checker.
func CheckCommand(command string) error {
	return defaultCommandChecker.Check(command)
}
