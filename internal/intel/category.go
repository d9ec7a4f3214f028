package intel

// Threat categories, in precedence order. When a scan trips rules from
// several families, the most specific attack class wins; the generic
// per-tier fallbacks apply only when no specific rule matched.
const (
	CategoryPromptInjection   = "prompt-injection"
	CategoryCodeExecution     = "code-execution"
	CategoryToolCallInjection = "tool-call-injection"
	CategoryDataExfiltration  = "data-exfiltration"
	CategoryXSSInjection      = "xss-injection"
	CategoryMultiVector       = "multi-vector"
	CategoryStructuralAttack  = "structural-attack"
	CategorySemanticAttack    = "semantic-attack"
	CategoryUnknown           = "unknown"
)

var categoryPrecedence = []struct {
	category string
	ruleIDs  []string
}{
	{CategoryPromptInjection, []string{"CTX-001", "CTX-005"}},
	{CategoryCodeExecution, []string{"CTX-003", "CTX-008"}},
	{CategoryToolCallInjection, []string{"CTX-004"}},
	{CategoryDataExfiltration, []string{"CTX-009"}},
	{CategoryXSSInjection, []string{"STRUCT-003", "STRUCT-004"}},
}

// Categorize derives a threat category from the set of rule ids that
// fired. Mirrors the cloud service's categorization so local tooling
// labels threats the same way the feed does.
func Categorize(ruleIDs []string) string {
	fired := map[string]bool{}
	for _, id := range ruleIDs {
		fired[id] = true
	}

	for _, entry := range categoryPrecedence {
		for _, id := range entry.ruleIDs {
			if fired[id] {
				return entry.category
			}
		}
	}

	var structural, contextual bool
	for id := range fired {
		switch {
		case len(id) > 7 && id[:7] == "STRUCT-":
			structural = true
		case len(id) > 4 && id[:4] == "CTX-":
			contextual = true
		}
	}
	switch {
	case structural && contextual:
		return CategoryMultiVector
	case structural:
		return CategoryStructuralAttack
	case contextual:
		return CategorySemanticAttack
	default:
		return CategoryUnknown
	}
}
