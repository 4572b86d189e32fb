package permission

import (
	"fmt"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// SecurityFinding is a pattern the Security Inspector (§4.2 inspection
// pipeline, stage 1) flagged in a Bash tool request before it ever reaches
// the permission inspector.
type SecurityFinding struct {
	Rule       string
	Detail     string
	Confidence float64
}

var deviceFileRe = regexp.MustCompile(`(?i)^/dev/(sd[a-z]\d*|nvme\d+n\d+|hd[a-z]\d*|disk\d+)$`)
var credentialPathRe = regexp.MustCompile(`(?i)(\.ssh/id_[a-z]+$|\.aws/credentials$|\.netrc$|/etc/shadow$|\.npmrc$|\.pypirc$)`)

const forkBombSignature = ":(){:|:&};:"

var shellInterpreters = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true}
var networkFetchCommands = map[string]bool{"curl": true, "wget": true}

// InspectBashSecurity parses a raw Bash command with the same mvdan.cc/sh/v3
// AST ParseBashCommand uses for permission-pattern matching, and flags a
// fixed set of destructive or credential-exfiltrating shapes: redirection to
// a block device, `rm -rf` rooted at `/`, fork bombs, piping a network fetch
// into a shell interpreter, and paths to common credential files.
// Confidence is a fixed per-pattern score: 0.9 for rm -rf/fork-bomb/
// curl-pipe-sh/device-redirect, 0.75 for credential paths (lower because a
// legitimate tool may need to read, not exfiltrate, one of those files).
//
// The inspector never blocks on its own — the Tool Dispatcher turns findings
// into a permission deny/ask (§4.2).
func InspectBashSecurity(command string) []SecurityFinding {
	var findings []SecurityFinding

	if strings.Contains(stripSpaces(command), forkBombSignature) {
		findings = append(findings, SecurityFinding{
			Rule:       "fork-bomb",
			Detail:     "command matches the classic fork-bomb signature",
			Confidence: 0.9,
		})
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return findings
	}

	sawNetworkFetch := false
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			cmd := extractCommand(n)
			if cmd == nil {
				return true
			}
			switch {
			case cmd.Name == "rm" && hasForceRecursive(cmd.Args) && hasRootedArg(cmd.Args):
				findings = append(findings, SecurityFinding{
					Rule:       "rm-rf-root",
					Detail:     "rm -rf targets a /-rooted path",
					Confidence: 0.9,
				})
			case networkFetchCommands[cmd.Name]:
				sawNetworkFetch = true
			case shellInterpreters[cmd.Name] && sawNetworkFetch:
				findings = append(findings, SecurityFinding{
					Rule:       "curl-pipe-sh",
					Detail:     "network fetch output piped into a shell interpreter",
					Confidence: 0.9,
				})
			}
			for _, arg := range cmd.Args {
				if deviceFileRe.MatchString(arg) {
					findings = append(findings, SecurityFinding{
						Rule:       "device-redirect",
						Detail:     fmt.Sprintf("references block device %q", arg),
						Confidence: 0.9,
					})
				}
				if credentialPathRe.MatchString(arg) {
					findings = append(findings, SecurityFinding{
						Rule:       "credential-path",
						Detail:     fmt.Sprintf("references credential path %q", arg),
						Confidence: 0.75,
					})
				}
			}
		case *syntax.Redirect:
			target := wordToString(n.Word)
			if deviceFileRe.MatchString(target) {
				findings = append(findings, SecurityFinding{
					Rule:       "device-redirect",
					Detail:     fmt.Sprintf("redirects into block device %q", target),
					Confidence: 0.9,
				})
			}
		}
		return true
	})

	return findings
}

func hasForceRecursive(args []string) bool {
	recursive, force := false, false
	for _, a := range args {
		switch {
		case a == "--recursive", a == "-r", a == "-R":
			recursive = true
		case a == "--force":
			force = true
		case strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--"):
			if strings.ContainsRune(a, 'r') || strings.ContainsRune(a, 'R') {
				recursive = true
			}
			if strings.ContainsRune(a, 'f') {
				force = true
			}
		}
	}
	return recursive && force
}

func hasRootedArg(args []string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if a == "/" || a == "/*" || a == "--no-preserve-root" {
			return true
		}
	}
	return false
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
