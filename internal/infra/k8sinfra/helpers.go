package k8sinfra

import (
	"bufio"
	"io"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/intstr"

	"prevant/internal/infra"
)

func resourceQuantity(bytes int64) *resource.Quantity {
	q := resource.NewQuantity(bytes, resource.BinarySI)
	return q
}

func intOrString(port int) intstr.IntOrString {
	return intstr.FromInt(port)
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	return bufio.NewScanner(r)
}

// parseTimestampedLine splits a kubectl-style "<RFC3339Nano> <line>" log
// entry produced when PodLogOptions.Timestamps is set.
func parseTimestampedLine(raw string) infra.LogLine {
	idx := strings.IndexByte(raw, ' ')
	if idx < 0 {
		return infra.LogLine{Timestamp: time.Now(), Line: raw}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw[:idx])
	if err != nil {
		return infra.LogLine{Timestamp: time.Now(), Line: raw}
	}
	return infra.LogLine{Timestamp: ts, Line: raw[idx+1:]}
}
