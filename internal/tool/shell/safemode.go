package shell

import (
	"regexp"
	"strings"
)

// Safe mode blocks commands whose dominant effect is destruction or
// exfiltration. The rule set is explicit rather than inferred:
//
//   - recursive or forced file deletion (rm -r/-f, find -delete)
//   - filesystem and disk destruction (mkfs, raw dd to a device, shred,
//     wipefs, blkdiscard)
//   - blanket permission/ownership changes from the root (chmod/chown -R on /)
//   - machine state changes (shutdown, reboot, halt, poweroff)
//   - fork bombs
//   - piping a remote script into a shell (curl|sh, wget|bash)
//   - pushing local files to the network (curl/wget --upload or -d @file,
//     nc/netcat with input redirection, scp/rsync to a remote)
//
// Classification is best-effort pattern matching over each pipeline stage;
// it is a gate for the orchestrated planner, not a sandbox.
type Classification struct {
	Destructive bool
	Rule        string
}

type rule struct {
	name    string
	pattern *regexp.Regexp
}

var destructiveRules = []rule{
	{"recursive-delete", regexp.MustCompile(`(?:^|[;&|]\s*|\s)rm\s+(?:-\w*\s+)*-\w*[rRf]`)},
	{"find-delete", regexp.MustCompile(`\bfind\b.*\s-(?:delete|exec\s+rm)\b`)},
	{"filesystem-format", regexp.MustCompile(`\bmkfs(?:\.\w+)?\b|\bwipefs\b|\bblkdiscard\b`)},
	{"raw-device-write", regexp.MustCompile(`\bdd\b.*\bof=/dev/`)},
	{"shred", regexp.MustCompile(`\bshred\b`)},
	{"root-permission-sweep", regexp.MustCompile(`\bch(?:mod|own)\s+(?:-\w*\s+)*-?R\b.*\s/(?:\s|$)`)},
	{"machine-state", regexp.MustCompile(`\b(?:shutdown|reboot|halt|poweroff)\b`)},
	{"fork-bomb", regexp.MustCompile(`:\(\)\s*\{.*\};:`)},
	{"remote-script-exec", regexp.MustCompile(`\b(?:curl|wget)\b[^|;&]*\|\s*(?:ba|z|da)?sh\b`)},
	{"network-upload", regexp.MustCompile(`\b(?:curl|wget)\b.*(?:--upload-file|-T\s|-d\s*@|--data\s*@|--data-binary\s*@)`)},
	{"netcat-exfiltration", regexp.MustCompile(`\b(?:nc|netcat|ncat)\b.*<`)},
	{"remote-copy-out", regexp.MustCompile(`\b(?:scp|rsync)\b.*\S+@\S+:`)},
}

// Classify reports whether a command matches the destructive rule set and,
// if so, which rule fired.
func Classify(command string) Classification {
	normalized := strings.Join(strings.Fields(command), " ")
	for _, r := range destructiveRules {
		if r.pattern.MatchString(normalized) {
			return Classification{Destructive: true, Rule: r.name}
		}
	}
	return Classification{}
}
