package memory

import (
	"fmt"
	"hash/fnv"
	"strings"
)

const (
	// maxCollectionName is the storage engine's name limit.
	maxCollectionName = 63
	// suffixReserve is kept free for "_{role}_memory".
	suffixReserve  = 20
	maxSubjectPart = maxCollectionName - suffixReserve
	collectionTail = "_memory"
	maxRoleLen     = suffixReserve - len(collectionTail) - 1
)

// Agent roles that keep their own memory.
const (
	RoleBull        = "bull"
	RoleBear        = "bear"
	RoleTrader      = "trader"
	RoleInvestJudge = "invest_judge"
	RoleRiskManager = "risk_manager"
)

// Roles lists every built-in memory role.
var Roles = []string{RoleBull, RoleBear, RoleTrader, RoleInvestJudge, RoleRiskManager}

func isAlnum(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func shortHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

// sanitizeSubject maps a free-text subject onto [A-Z0-9_], starting with an
// alphanumeric and at most maxSubjectPart long. When characters had to be
// replaced or cut, a hash of the input is appended so that distinct subjects
// such as "BRK.B" and "BRK-B" never collide.
func sanitizeSubject(subject string) string {
	upper := strings.ToUpper(strings.TrimSpace(subject))

	var b strings.Builder
	altered := false
	for _, r := range upper {
		if isAlnum(r) || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
		altered = true
	}
	out := b.String()
	if out == "" {
		out = "SUBJECT"
		altered = true
	}
	if !isAlnum(rune(out[0])) {
		out = "S" + out
		altered = true
	}

	if len(out) > maxSubjectPart {
		altered = true
	}
	if altered {
		// Leave room for "_" plus the 8-char hash.
		if len(out) > maxSubjectPart-9 {
			out = out[:maxSubjectPart-9]
		}
		out = strings.TrimRight(out, "_") + "_" + shortHash(upper)
	}
	return out
}

func sanitizeRole(role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return "", fmt.Errorf("memory role must not be empty")
	}
	for _, r := range role {
		if !isAlnum(r) && r != '_' {
			return "", fmt.Errorf("memory role %q may only contain [a-z0-9_]", role)
		}
	}
	if len(role) > maxRoleLen {
		return "", fmt.Errorf("memory role %q exceeds %d characters", role, maxRoleLen)
	}
	return role, nil
}

// CollectionName derives the namespace for a (subject, role) pair.
func CollectionName(subject, role string) (string, error) {
	r, err := sanitizeRole(role)
	if err != nil {
		return "", err
	}
	return sanitizeSubject(subject) + "_" + r + collectionTail, nil
}
