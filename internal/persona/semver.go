package persona

import (
	"fmt"
	"strconv"
	"strings"
)

type version struct {
	major, minor, patch int
}

func parseVersion(s string) (version, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return version{}, fmt.Errorf("version %q is not major.minor.patch", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return version{}, fmt.Errorf("version %q has a non-numeric segment", s)
		}
		nums[i] = n
	}
	return version{major: nums[0], minor: nums[1], patch: nums[2]}, nil
}

func (v version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// compare returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a version) compare(b version) int {
	switch {
	case a.major != b.major:
		return cmpInt(a.major, b.major)
	case a.minor != b.minor:
		return cmpInt(a.minor, b.minor)
	default:
		return cmpInt(a.patch, b.patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v version) bumpMinor() version {
	return version{major: v.major, minor: v.minor + 1, patch: 0}
}

// nextVersion computes the new version for an update: the greater of the
// client-supplied version and a minor-increment of current. A client-supplied
// version that is not strictly greater than current is rejected.
func nextVersion(current, clientSupplied string) (string, error) {
	cur, err := parseVersion(current)
	if err != nil {
		return "", err
	}
	bumped := cur.bumpMinor()

	candidate := bumped
	if clientSupplied != "" {
		cs, err := parseVersion(clientSupplied)
		if err != nil {
			return "", err
		}
		if cs.compare(cur) <= 0 {
			return "", fmt.Errorf("version %s is not strictly greater than current %s", cs, cur)
		}
		if cs.compare(bumped) > 0 {
			candidate = cs
		}
	}

	if candidate.compare(cur) <= 0 {
		return "", fmt.Errorf("version %s is not strictly greater than current %s", candidate, cur)
	}
	return candidate.String(), nil
}
