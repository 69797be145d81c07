// Package libcode converts between library code lists and the compact range
// notation the LIMS uses for multiplexed lanes ("do11,do13,do42-do45").
package libcode

import (
    "fmt"
    "regexp"
    "sort"
    "strconv"
    "strings"
)

var (
    codeRe   = regexp.MustCompile(`^(?i:do)(\d+)$`)
    numberRe = regexp.MustCompile(`^\d+$`)
)

// Expand turns a comma separated list of codes and ranges into individual
// codes. Range ends may be abbreviated: "do1234-40" means do1234..do1240.
func Expand(s string) ([]string, error) {
    var out []string
    for _, part := range strings.Split(s, ",") {
        part = strings.TrimSpace(part)
        if part == "" { continue }
        start, end, isRange := strings.Cut(part, "-")
        sm := codeRe.FindStringSubmatch(start)
        if sm == nil { return nil, fmt.Errorf("%q in %q is not a library code", start, s) }
        startNum := sm[1]
        if !isRange {
            out = append(out, "do"+startNum)
            continue
        }
        endNum := ""
        if em := codeRe.FindStringSubmatch(end); em != nil {
            endNum = em[1]
        } else if numberRe.MatchString(end) {
            endNum = end
            if len(endNum) < len(startNum) {
                endNum = startNum[:len(startNum)-len(endNum)] + endNum
            }
        } else {
            return nil, fmt.Errorf("%q in %q is not a library code", end, s)
        }
        lo, _ := strconv.Atoi(startNum)
        hi, _ := strconv.Atoi(endNum)
        if lo > hi { return nil, fmt.Errorf("library code range %q is not ascending", part) }
        for i := lo; i <= hi; i++ {
            out = append(out, fmt.Sprintf("do%d", i))
        }
    }
    return out, nil
}

// Condense is the inverse of Expand. Codes that are not "do" numbers are
// appended verbatim, sorted.
func Condense(codes []string) string {
    var nums []int
    var others []string
    seen := map[int]bool{}
    for _, c := range codes {
        if m := codeRe.FindStringSubmatch(c); m != nil {
            n, _ := strconv.Atoi(m[1])
            if !seen[n] {
                seen[n] = true
                nums = append(nums, n)
            }
            continue
        }
        others = append(others, c)
    }
    sort.Ints(nums)
    sort.Strings(others)

    var parts []string
    for i := 0; i < len(nums); {
        j := i
        for j+1 < len(nums) && nums[j+1] == nums[j]+1 { j++ }
        if i == j {
            parts = append(parts, fmt.Sprintf("do%d", nums[i]))
        } else {
            parts = append(parts, fmt.Sprintf("do%d-do%d", nums[i], nums[j]))
        }
        i = j + 1
    }
    return strings.Join(append(parts, others...), ",")
}

// IsMultiplexed reports whether a LIMS sample field names more than one library.
func IsMultiplexed(sample string) bool {
    return strings.ContainsAny(sample, ",-")
}
