package lightware

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/benmeehan/router-agent/pkg/router"
)

// LW3 paths used by the backend.
const (
	PathProductName    = "/.ProductName"
	PathFirmware       = "/.FirmwareVersion"
	PathSourceCount    = "/MEDIA/XP/VIDEO.SourcePortCount"
	PathDestCount      = "/MEDIA/XP/VIDEO.DestinationPortCount"
	PathConnectionList = "/MEDIA/XP/VIDEO.DestinationConnectionList"
	PathNames          = "/MEDIA/NAMES/VIDEO"
	MethodSwitch       = "/MEDIA/XP/VIDEO:switch"
)

// maxTransactionID is the largest 4-digit id before the counter wraps to 1.
const maxTransactionID = 9999

var (
	nameLinePattern = regexp.MustCompile(`^p[rwm]\s+/MEDIA/NAMES/VIDEO\.([IO])(\d+)=(?:\d+;)?(.*)$`)
	connPattern     = regexp.MustCompile(`^I(\d+):O(\d+)$`)
	errorPrefixes   = []string{"pE", "nE", "mE", "-E"}
)

// frame renders one request.
func frame(id int, command string) string {
	return fmt.Sprintf("%04d#%s\r\n", id, command)
}

func openTag(id int) string {
	return fmt.Sprintf("{%04d", id)
}

// opensReply reports whether a trimmed line starts the reply block for tag.
// The character after the tag must not be a digit, so {0012 never opens {001.
func opensReply(line, tag string) bool {
	if !strings.HasPrefix(line, tag) {
		return false
	}
	if len(line) == len(tag) {
		return true
	}
	c := line[len(tag)]
	return c < '0' || c > '9'
}

func namePath(dir router.Direction, port int) string {
	if dir == router.Output {
		return fmt.Sprintf("%s.O%d", PathNames, port)
	}
	return fmt.Sprintf("%s.I%d", PathNames, port)
}

func switchCommand(output, input int) string {
	return fmt.Sprintf("CALL %s(I%d:O%d)", MethodSwitch, input, output)
}

// replyError returns the first error line of a reply, if any.
func replyError(lines []string) (string, bool) {
	for _, l := range lines {
		for _, p := range errorPrefixes {
			if strings.HasPrefix(l, p) {
				return l, true
			}
		}
	}
	return "", false
}

// propertyValue finds "<prefix> <path>=<value>" in a reply.
func propertyValue(lines []string, path string) (string, bool) {
	for _, l := range lines {
		_, rest, ok := strings.Cut(l, " ")
		if !ok {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(rest), "=")
		if ok && key == path {
			return value, true
		}
	}
	return "", false
}

// parseNames extracts 1-based port labels from a bulk name reply.
func parseNames(lines []string) (inputs, outputs map[int]string) {
	inputs, outputs = map[int]string{}, map[int]string{}
	for _, l := range lines {
		m := nameLinePattern.FindStringSubmatch(strings.TrimRight(l, "\r"))
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if m[1] == "O" {
			outputs[port] = m[3]
		} else {
			inputs[port] = m[3]
		}
	}
	return inputs, outputs
}

// parseConnections converts "I1:O1;I3:O2" into 0-based routes. I0 marks
// an output with nothing routed.
func parseConnections(value string, outputs int) ([]int, error) {
	routes := make([]int, outputs)
	for i := range routes {
		routes[i] = router.NoInput
	}
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		m := connPattern.FindStringSubmatch(pair)
		if m == nil {
			return nil, fmt.Errorf("malformed connection %q", pair)
		}
		in, _ := strconv.Atoi(m[1])
		out, _ := strconv.Atoi(m[2])
		if out < 1 || out > outputs {
			continue
		}
		if in == 0 {
			routes[out-1] = router.NoInput
			continue
		}
		routes[out-1] = in - 1
	}
	return routes, nil
}
