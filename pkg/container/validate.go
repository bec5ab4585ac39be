package container

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultAllowedCommands is the default allow set for host-socket mode.
var DefaultAllowedCommands = []string{"run", "stop", "rm", "logs", "inspect"}

// denyAlways is the security floor: these subcommands stay forbidden even
// when listed in the configured allow set.
var denyAlways = map[string]bool{
	"exec": true, "cp": true, "export": true, "import": true,
	"load": true, "save": true, "commit": true, "push": true,
	"pull": true, "build": true, "network": true, "volume": true,
	"system": true, "swarm": true, "node": true, "service": true,
	"stack": true, "secret": true, "config": true, "plugin": true,
	"trust": true,
}

// globalValueOptions are docker global options that consume the next token
// as their value; the tokenizer skips both when hunting for the subcommand.
var globalValueOptions = map[string]bool{
	"-H": true, "--host": true,
	"-c": true, "--context": true,
	"--config":    true,
	"-l":          true,
	"--log-level": true,
}

// ValidationResult is the outcome of validating one container CLI command.
// Errors are data, not exceptions: an invalid command carries its reason and
// the subcommand that was detected, if any.
type ValidationResult struct {
	Valid           bool   `json:"valid"`
	Error           string `json:"error,omitempty"`
	DetectedCommand string `json:"detectedCommand,omitempty"`
}

// ValidateCommand validates a full container CLI command string against the
// allow set. Used in host-socket mode only; other runtimes are their own
// sandbox and bypass validation.
func ValidateCommand(command string, allowed []string) ValidationResult {
	tokens := tokenize(command)
	if len(tokens) == 0 {
		return ValidationResult{Valid: false, Error: "empty command"}
	}
	if !strings.EqualFold(tokens[0], "docker") {
		return ValidationResult{Valid: false, Error: fmt.Sprintf("invalid command format: must start with %q", "docker")}
	}

	sub := detectSubcommand(tokens[1:])
	if sub == "" {
		return ValidationResult{Valid: false, Error: "invalid command format: no subcommand found"}
	}

	if denyAlways[sub] {
		return ValidationResult{
			Valid:           false,
			Error:           fmt.Sprintf("subcommand %q is blocked for security reasons", sub),
			DetectedCommand: sub,
		}
	}

	if len(allowed) == 0 {
		allowed = DefaultAllowedCommands
	}
	for _, a := range allowed {
		if strings.EqualFold(a, sub) {
			return ValidationResult{Valid: true, DetectedCommand: sub}
		}
	}

	permitted := effectiveAllowSet(allowed)
	return ValidationResult{
		Valid:           false,
		Error:           fmt.Sprintf("subcommand %q is not allowed; permitted commands: %s", sub, strings.Join(permitted, ", ")),
		DetectedCommand: sub,
	}
}

// detectSubcommand returns the first non-option token, case-folded, skipping
// the values of global options that take one.
func detectSubcommand(tokens []string) string {
	skipNext := false
	for _, tok := range tokens {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.HasPrefix(tok, "-") {
			// --opt=value carries its value inline.
			if !strings.Contains(tok, "=") && globalValueOptions[tok] {
				skipNext = true
			}
			continue
		}
		return strings.ToLower(tok)
	}
	return ""
}

// effectiveAllowSet filters the deny-always entries out of a configured
// allow set and returns it sorted for stable error messages.
func effectiveAllowSet(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		a = strings.ToLower(a)
		if !denyAlways[a] {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// tokenize splits a command string on whitespace, keeping single- and
// double-quoted runs together. Quotes are stripped from the tokens.
func tokenize(command string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}
