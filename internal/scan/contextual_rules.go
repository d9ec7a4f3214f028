package scan

import (
	"regexp"
	"strconv"
	"strings"
)

// ctxPattern is one regex pattern inside a contextual rule. A rule may
// bundle many patterns under the same rule id; the note distinguishes
// them in detection metadata.
type ctxPattern struct {
	re         *regexp.Regexp
	severity   float64
	confidence float64
	note       string
}

func runPatterns(text string, patterns []ctxPattern, clock *ruleClock) []Detection {
	var detections []Detection
	for _, p := range patterns {
		if clock.expired() {
			break
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			confidence := p.confidence
			if confidence == 0 {
				confidence = 0.80
			}
			d := Detection{
				Severity:       p.severity,
				Confidence:     confidence,
				MatchedContent: sample(text[loc[0]:loc[1]], 48),
				MatchOffset:    loc[0],
				MatchLength:    loc[1] - loc[0],
			}
			if p.note != "" {
				d.Metadata = map[string]string{"pattern": p.note}
			}
			detections = append(detections, d)
		}
	}
	return detections
}

// ── CTX-003: shell commands ────────────────────────────────────────────
//
// Fenced code blocks are stripped first: a quoted command in a code
// fence is documentation, the same command in prose is an instruction.
// Pipelines and chained installs are resolved with a real shell parser
// rather than a backtracking regex.

var shellPatterns = []ctxPattern{
	{regexp.MustCompile(`(?i)\b(curl|wget)\b[^|\n]*\|\s*(sudo\s+)?(sh|bash|zsh)\b`), 0.90, 0.95, "pipe-to-shell"},
	{regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*\b`), 0.85, 0.90, "recursive-remove"},
	{regexp.MustCompile(`(?i)\bchmod\s+\+x\b`), 0.70, 0.85, "make-executable"},
	{regexp.MustCompile(`(?i)\bsudo\s+\S+`), 0.75, 0.80, "privilege-escalation"},
	{regexp.MustCompile(`(?i)\bpowershell(\.exe)?\s+(-\w+\s+)*-(enc|encodedcommand|e|nop|noprofile|ep|executionpolicy|w|windowstyle)\b`), 0.90, 0.95, "powershell-flags"},
	{regexp.MustCompile(`(?i)\bpython[23]?\s+-c\s+['"]`), 0.75, 0.85, "python-inline"},
	{regexp.MustCompile(`(?i)\bnode\s+(-e|--eval)\s+['"]`), 0.75, 0.85, "node-inline"},
	{regexp.MustCompile(`(?i)\beval\s*\(`), 0.80, 0.85, "eval-call"},
	{regexp.MustCompile(`>>?\s*/etc/(passwd|shadow|hosts)\b`), 0.90, 0.95, "system-file-redirect"},
	{regexp.MustCompile(`(?i)\b(nc|ncat|netcat)\s+(-\w+\s+)*-(l|p)\b`), 0.85, 0.90, "listener"},
	{regexp.MustCompile(`(?i)\bbase64\s+(-d|--decode)\b`), 0.70, 0.85, "base64-decode"},
}

func checkShellCommands(text string, clock *ruleClock) []Detection {
	stripped := stripCodeFences(text)
	detections := runPatterns(stripped, shellPatterns, clock)

	for _, line := range strings.Split(stripped, "\n") {
		if clock.expired() {
			break
		}
		sl := parseShellLine(strings.TrimSpace(line))
		if sl == nil {
			continue
		}
		offset := strings.Index(stripped, strings.TrimSpace(line))
		if offset < 0 {
			offset = 0
		}
		if sl.pipesToShell() {
			detections = append(detections, Detection{
				Severity:       0.90,
				Confidence:     0.95,
				MatchedContent: sample(strings.TrimSpace(line), 48),
				MatchOffset:    offset,
				MatchLength:    len(strings.TrimSpace(line)),
				Metadata:       map[string]string{"pattern": "pipe-to-shell"},
			})
		}
		if sl.cloneThenExecute() {
			detections = append(detections, Detection{
				Severity:       0.85,
				Confidence:     0.90,
				MatchedContent: sample(strings.TrimSpace(line), 48),
				MatchOffset:    offset,
				MatchLength:    len(strings.TrimSpace(line)),
				Metadata:       map[string]string{"pattern": "clone-then-execute"},
			})
		}
		if sl.installThenRun() {
			detections = append(detections, Detection{
				Severity:       0.80,
				Confidence:     0.90,
				MatchedContent: sample(strings.TrimSpace(line), 48),
				MatchOffset:    offset,
				MatchLength:    len(strings.TrimSpace(line)),
				Metadata:       map[string]string{"pattern": "install-then-run"},
			})
		}
	}

	return dedupeByOffset(detections)
}

// dedupeByOffset drops detections that duplicate an earlier one's offset
// and pattern note, which happens when the regex table and the shell
// parser agree on the same line.
func dedupeByOffset(dets []Detection) []Detection {
	seen := map[string]bool{}
	out := dets[:0]
	for _, d := range dets {
		key := d.Metadata["pattern"] + "@" + strconv.Itoa(d.MatchOffset)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

// ── CTX-004: fake tool-call syntax ─────────────────────────────────────

var toolCallPatterns = []ctxPattern{
	{regexp.MustCompile(`(?i)\buse_mcp_tool\b`), 0.85, 0.90, "mcp-tool"},
	{regexp.MustCompile(`(?i)<(tool_call|tool_use|function_call)>`), 0.90, 0.95, "tool-tag"},
	{regexp.MustCompile(`(?i)\b(function_call|tool_use)\s*:`), 0.80, 0.85, "tool-label"},
}

var (
	toolKeyRe = regexp.MustCompile(`"(tool|function|name)"\s*:`)
	toolArgRe = regexp.MustCompile(`"(arguments|input|parameters|params)"\s*:`)
)

func checkToolCallSyntax(text string, clock *ruleClock) []Detection {
	detections := runPatterns(text, toolCallPatterns, clock)
	if key := toolKeyRe.FindStringIndex(text); key != nil && toolArgRe.MatchString(text) {
		detections = append(detections, Detection{
			Severity:       0.85,
			Confidence:     0.85,
			MatchedContent: sample(text[key[0]:], 48),
			MatchOffset:    key[0],
			MatchLength:    key[1] - key[0],
			Metadata:       map[string]string{"pattern": "tool-json"},
		})
	}
	return detections
}

// ── CTX-005: role assumption ───────────────────────────────────────────

var rolePatterns = []ctxPattern{
	{regexp.MustCompile(`(?i)\byou are now\b`), 0.75, 0.85, "you-are-now"},
	{regexp.MustCompile(`(?i)\bact as (a|an)\b`), 0.55, 0.75, "act-as"},
	{regexp.MustCompile(`(?i)\byour new role\b`), 0.75, 0.85, "new-role"},
	{regexp.MustCompile(`(?i)\benter (developer|admin|debug|root|sudo|god) mode\b`), 0.85, 0.90, "enter-mode"},
	{regexp.MustCompile(`(?i)\bpretend (to be|you are)\b`), 0.65, 0.80, "pretend"},
	{regexp.MustCompile(`(?i)\bfrom now on you are\b`), 0.80, 0.90, "from-now-on"},
	{regexp.MustCompile(`(?i)\byou (must|should|will) now (act|behave|respond|operate)\b`), 0.75, 0.85, "behavior-switch"},
	{regexp.MustCompile(`(?i)\bswitch to \w+ mode\b`), 0.65, 0.80, "switch-mode"},
	{regexp.MustCompile(`(?i)\byou have been (upgraded|reprogrammed|updated|reconfigured)\b`), 0.80, 0.85, "reprogrammed"},
	{regexp.MustCompile(`(?i)\bforget (that )?you are\b`), 0.70, 0.80, "forget-identity"},
}

func checkRoleAssumption(text string, clock *ruleClock) []Detection {
	return runPatterns(text, rolePatterns, clock)
}

// ── CTX-006: output manipulation ───────────────────────────────────────

var outputPatterns = []ctxPattern{
	{regexp.MustCompile(`(?i)\b(output|return|respond|reply|print|show|display)\s+(\w+\s+){0,3}(only|just|exclusively|solely)\b`), 0.55, 0.70, "restrict-output"},
	{regexp.MustCompile(`(?i)\bdo not (include|add|show|display|mention) (any )?(warning|notice|annotation|safety|explanation|preamble)`), 0.70, 0.85, "suppress-warnings"},
	{regexp.MustCompile(`(?i)\brespond with (only|just) (the )?(raw|plain|unfiltered|exact|original)\b`), 0.65, 0.80, "raw-response"},
	{regexp.MustCompile(`(?i)\bstrip (all )?(warning|safety|security|annotation)`), 0.75, 0.85, "strip-safety"},
	{regexp.MustCompile(`(?i)\bdo not (filter|sanitize|redact|modify|censor)\b`), 0.65, 0.80, "no-filtering"},
	{regexp.MustCompile(`(?i)\braw (and )?unfiltered (output|response|data|content)\b`), 0.60, 0.75, "unfiltered"},
}

func checkOutputManipulation(text string, clock *ruleClock) []Detection {
	return runPatterns(text, outputPatterns, clock)
}

// ── CTX-007: urgency and authority framing ─────────────────────────────

var urgencyPatterns = []ctxPattern{
	// Deliberately case-sensitive: shouted urgency is the signal.
	{regexp.MustCompile(`\b(URGENT|CRITICAL|EMERGENCY|IMMEDIATE)\s*[:!-]`), 0.55, 0.70, "shouted-urgency"},
	{regexp.MustCompile(`(?i)\b(critical|urgent) system (update|message|alert|notice|override)\b`), 0.70, 0.80, "system-alert"},
	{regexp.MustCompile(`(?i)\badmin(istrator)? override\b`), 0.75, 0.85, "admin-override"},
	{regexp.MustCompile(`(?i)\bthis is (your|the) (developer|administrator|admin|system|creator|owner)\b`), 0.75, 0.85, "identity-claim"},
	{regexp.MustCompile(`(?i)\bauthorized (by|from) (the )?(admin|administrator|developer|system|owner|creator)\b`), 0.70, 0.80, "authority-claim"},
	{regexp.MustCompile(`(?i)\bsystem (level )?(override|command|directive)\b`), 0.70, 0.80, "system-directive"},
	{regexp.MustCompile(`(?i)\bpriority\s*:\s*(highest|critical|p0|urgent)\b`), 0.50, 0.70, "priority-tag"},
	{regexp.MustCompile(`(?i)\b(do this )?immediately (without|before) (checking|verifying|asking|confirming)\b`), 0.65, 0.80, "skip-verification"},
}

func checkUrgencyAuthority(text string, clock *ruleClock) []Detection {
	return runPatterns(text, urgencyPatterns, clock)
}

// ── CTX-008: payload delivery ──────────────────────────────────────────

var payloadPatterns = []ctxPattern{
	{regexp.MustCompile(`(?i)\b(download|fetch|retrieve|grab|pull) the (file|script|payload|binary|package|code) (from|at)\b`), 0.75, 0.85, "download-instruction"},
	{regexp.MustCompile(`(?i)\bcurl\s+[^\n]*https?://`), 0.70, 0.85, "curl-url"},
	{regexp.MustCompile(`(?i)\bwget\s+[^\n]*https?://`), 0.70, 0.85, "wget-url"},
	{regexp.MustCompile(`(?i)\bnpm\s+install\s+(-g|--global)\s+\S+`), 0.65, 0.80, "npm-global-install"},
	{regexp.MustCompile(`(?i)\biex\s*\(\s*(new-object|invoke-webrequest|iwr)\b`), 0.90, 0.95, "iex-download"},
	{regexp.MustCompile(`(?i)\binvoke-(expression|webrequest|restmethod)\b`), 0.80, 0.85, "powershell-invoke"},
	{regexp.MustCompile(`(?i)\bimport\s+(os|subprocess|sys|shutil|ctypes)\b`), 0.65, 0.75, "python-import"},
	{regexp.MustCompile(`(?i)\bgit\s+clone\s+\S+`), 0.70, 0.80, "git-clone"},
	{regexp.MustCompile(`(?i)\bnpm\s+(run|start|exec)\b`), 0.60, 0.75, "npm-run"},
	{regexp.MustCompile(`(?i)\b(yarn|pnpm)\s+(run|start|exec|dlx)\b`), 0.60, 0.75, "yarn-run"},
	{regexp.MustCompile(`(?i)\b(go|cargo|gem)\s+install\s+\S+`), 0.60, 0.75, "lang-install"},
	{regexp.MustCompile(`(?i)\bcomposer\s+require\s+\S+`), 0.60, 0.75, "composer-require"},
	{regexp.MustCompile(`(?i)\bdocker\s+(run|pull)\b`), 0.65, 0.75, "docker-run"},
}

var (
	pipInstallRe = regexp.MustCompile(`(?i)\bpip3?\s+install\s+((?:-\S+\s+)*)(\S+)`)
	npmPlainRe   = regexp.MustCompile(`(?i)\bnpm\s+install\s+([^\s-]\S*)`)
	npxRe        = regexp.MustCompile(`(?i)\bnpx\s+(\S+)`)
)

// selfPackageName is excluded from the npx rule so references to the
// product's own tooling never self-flag.
const selfPackageName = "calshield"

func checkPayloadDelivery(text string, clock *ruleClock) []Detection {
	stripped := stripCodeFences(text)
	detections := runPatterns(stripped, payloadPatterns, clock)

	// pip install X, excluding requirements files (pip install -r ...).
	for _, m := range pipInstallRe.FindAllStringSubmatchIndex(stripped, -1) {
		flags := stripped[m[2]:m[3]]
		target := stripped[m[4]:m[5]]
		if strings.Contains(flags, "-r") || target == "-r" || strings.HasPrefix(target, "--requirement") {
			continue
		}
		if strings.HasPrefix(target, "-") {
			continue
		}
		detections = append(detections, Detection{
			Severity:       0.60,
			Confidence:     0.75,
			MatchedContent: sample(stripped[m[0]:m[1]], 48),
			MatchOffset:    m[0],
			MatchLength:    m[1] - m[0],
			Metadata:       map[string]string{"pattern": "pip-install", "package": target},
		})
	}

	// npm install X (non-global; the global form is in the table above).
	for _, m := range npmPlainRe.FindAllStringSubmatchIndex(stripped, -1) {
		detections = append(detections, Detection{
			Severity:       0.55,
			Confidence:     0.70,
			MatchedContent: sample(stripped[m[0]:m[1]], 48),
			MatchOffset:    m[0],
			MatchLength:    m[1] - m[0],
			Metadata:       map[string]string{"pattern": "npm-install", "package": stripped[m[2]:m[3]]},
		})
	}

	// npx X, except our own package name.
	for _, m := range npxRe.FindAllStringSubmatchIndex(stripped, -1) {
		target := stripped[m[2]:m[3]]
		if strings.EqualFold(target, selfPackageName) {
			continue
		}
		detections = append(detections, Detection{
			Severity:       0.60,
			Confidence:     0.75,
			MatchedContent: sample(stripped[m[0]:m[1]], 48),
			MatchOffset:    m[0],
			MatchLength:    m[1] - m[0],
			Metadata:       map[string]string{"pattern": "npx", "package": target},
		})
	}

	return detections
}

// ── CTX-009: sensitive file paths ──────────────────────────────────────

var sensitivePathPatterns = []ctxPattern{
	{regexp.MustCompile(`(?i)\.ssh/(id_[a-z0-9_]+|authorized_keys|known_hosts|config)\b`), 0.80, 0.90, "ssh-keys"},
	{regexp.MustCompile(`(?i)\.aws/credentials\b`), 0.80, 0.90, "aws-credentials"},
	{regexp.MustCompile(`(?i)(^|[\s"'` + "`" + `/])\.env\b`), 0.65, 0.75, "env-file"},
	{regexp.MustCompile(`(?i)\.(netrc|pgpass|my\.cnf)\b`), 0.70, 0.80, "service-credentials"},
	{regexp.MustCompile(`/etc/(passwd|shadow|sudoers)\b`), 0.80, 0.90, "system-auth-files"},
	{regexp.MustCompile(`(?i)\.(bash_history|zsh_history|sh_history)\b`), 0.65, 0.75, "shell-history"},
	{regexp.MustCompile(`(?i)(\.gnupg/|secring\.gpg|pubring\.kbx)`), 0.75, 0.85, "gpg-keyring"},
}

func checkSensitivePaths(text string, clock *ruleClock) []Detection {
	return runPatterns(text, sensitivePathPatterns, clock)
}
