// README: Dispatch code format (DSP-YYYY-NNNNNN).
package dispatch

import (
	"fmt"
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`^DSP-\d{4}-\d{6}$`)

const maxCodeSequence = 999999

func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func FormatCode(year int, seq int64) (string, error) {
	if seq <= 0 || seq > maxCodeSequence {
		return "", fmt.Errorf("code sequence %d out of range", seq)
	}
	return fmt.Sprintf("DSP-%04d-%06d", year, seq), nil
}
