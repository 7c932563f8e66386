package orchestrator

import (
	"fmt"
	"strings"

	xerrors "OpenBoBS/internal/errors"
)

// Profile 控制生成策略的倾向。
type Profile string

const (
	ProfileBalanced Profile = "balanced"
	ProfileCreative Profile = "creative"
	ProfileStrict   Profile = "strict"
)

var profilePolicies = map[Profile]string{
	ProfileBalanced: "Practical quality gates.",
	ProfileCreative: "Ambitious alternatives.",
	ProfileStrict:   "Deterministic controls and acceptance criteria.",
}

// ParseProfile 解析配置或请求中的 profile 字符串。
func ParseProfile(raw string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := profilePolicies[p]; !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown profile %q", raw),
			xerrors.WithMetadata("profile", raw))
	}
	return p, nil
}

// Valid 判断 profile 是否受支持。
func (p Profile) Valid() bool {
	_, ok := profilePolicies[p]
	return ok
}

// Policy 返回 profile 对应的策略文本。
func (p Profile) Policy() string {
	return profilePolicies[p]
}
