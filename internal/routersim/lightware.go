package routersim

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	lw3Request = regexp.MustCompile(`^(\d{4})#(.*)$`)
	lw3Name    = regexp.MustCompile(`^/MEDIA/NAMES/VIDEO\.([IO])(\d+)$`)
	lw3Switch  = regexp.MustCompile(`^CALL /MEDIA/XP/VIDEO:switch\(I(\d+):O(\d+)\)$`)
)

// Lightware simulates an LW3 matrix.
type Lightware struct {
	mu       sync.Mutex
	product  string
	inputs   int
	outputs  int
	inNames  map[int]string
	outNames map[int]string
	routes   map[int]int // 1-based output -> 1-based input, 0 unrouted

	// OmitCounts answers the port count properties with an error.
	OmitCounts bool

	strayBlocks int
	failSet     map[string]bool
	silent      bool
	requests    []string

	srv *tcpServer
}

func NewLightware(inputs, outputs int) *Lightware {
	l := &Lightware{
		product:  "MX2-8x8-HDMI20",
		inputs:   inputs,
		outputs:  outputs,
		inNames:  map[int]string{},
		outNames: map[int]string{},
		routes:   map[int]int{},
		failSet:  map[string]bool{},
	}
	for i := 1; i <= inputs; i++ {
		l.inNames[i] = fmt.Sprintf("Input %d", i)
	}
	for o := 1; o <= outputs; o++ {
		l.outNames[o] = fmt.Sprintf("Output %d", o)
	}
	return l
}

func (l *Lightware) Start() error {
	srv, err := startTCP(l.serve)
	if err != nil {
		return err
	}
	l.srv = srv
	return nil
}

func (l *Lightware) Close()       { l.srv.close() }
func (l *Lightware) Port() int    { return l.srv.port() }
func (l *Lightware) DropClients() { l.srv.dropClients() }

// SendStrayBlocks prefixes the next n replies with a block carrying a
// different transaction id.
func (l *Lightware) SendStrayBlocks(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.strayBlocks = n
}

// FailSet makes SET on path answer with an error line.
func (l *Lightware) FailSet(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSet[path] = true
}

func (l *Lightware) SetSilent(silent bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.silent = silent
}

// Requests returns every framed request received so far.
func (l *Lightware) Requests() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.requests...)
}

func (l *Lightware) Name(output bool, port int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if output {
		return l.outNames[port]
	}
	return l.inNames[port]
}

// Route returns the 1-based input routed to a 1-based output, 0 if none.
func (l *Lightware) Route(output int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.routes[output]
}

func (l *Lightware) serve(conn net.Conn, r *bufio.Reader) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		m := lw3Request.FindStringSubmatch(strings.TrimRight(raw, "\r\n"))
		if m == nil {
			continue
		}
		reply := l.handle(m[1], m[2])
		if reply == "" {
			continue
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (l *Lightware) handle(id, cmd string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, id+"#"+cmd)
	if l.silent {
		return ""
	}

	var b strings.Builder
	if l.strayBlocks > 0 {
		l.strayBlocks--
		n, _ := strconv.Atoi(id)
		fmt.Fprintf(&b, "{%04d\r\npr /.ProductName=STRAY\r\n}\r\n", n%9999+1)
		b.WriteString("CHG /MEDIA/XP/VIDEO.DestinationConnectionList=I9:O9\r\n")
	}
	fmt.Fprintf(&b, "{%s\r\n", id)
	for _, line := range l.execute(cmd) {
		b.WriteString(line + "\r\n")
	}
	b.WriteString("}\r\n")
	return b.String()
}

func (l *Lightware) execute(cmd string) []string {
	verb, arg, _ := strings.Cut(cmd, " ")
	switch verb {
	case "GET":
		return l.get(arg)
	case "SET":
		path, value, ok := strings.Cut(arg, "=")
		if !ok {
			return []string{"pE " + arg + " %E004:Invalid value"}
		}
		return l.set(path, value)
	case "CALL":
		return l.call(cmd)
	}
	return []string{"-E " + cmd + " %E001:Syntax error"}
}

func (l *Lightware) get(path string) []string {
	switch path {
	case "/.ProductName":
		return []string{"pr /.ProductName=" + l.product}
	case "/.FirmwareVersion":
		return []string{"pr /.FirmwareVersion=2.6.1b3"}
	case "/MEDIA/XP/VIDEO.SourcePortCount":
		if l.OmitCounts {
			return []string{"pE " + path + " %E002:Not exists"}
		}
		return []string{fmt.Sprintf("pr %s=%d", path, l.inputs)}
	case "/MEDIA/XP/VIDEO.DestinationPortCount":
		if l.OmitCounts {
			return []string{"pE " + path + " %E002:Not exists"}
		}
		return []string{fmt.Sprintf("pr %s=%d", path, l.outputs)}
	case "/MEDIA/XP/VIDEO.DestinationConnectionList":
		pairs := make([]string, 0, l.outputs)
		for o := 1; o <= l.outputs; o++ {
			pairs = append(pairs, fmt.Sprintf("I%d:O%d", l.routes[o], o))
		}
		return []string{"pr " + path + "=" + strings.Join(pairs, ";")}
	case "/MEDIA/NAMES/VIDEO.*":
		var out []string
		for i := 1; i <= l.inputs; i++ {
			out = append(out, fmt.Sprintf("pw /MEDIA/NAMES/VIDEO.I%d=%d;%s", i, i, l.inNames[i]))
		}
		for o := 1; o <= l.outputs; o++ {
			out = append(out, fmt.Sprintf("pw /MEDIA/NAMES/VIDEO.O%d=%d;%s", o, o, l.outNames[o]))
		}
		return out
	}
	return []string{"pE " + path + " %E002:Not exists"}
}

func (l *Lightware) set(path, value string) []string {
	m := lw3Name.FindStringSubmatch(path)
	if m == nil || l.failSet[path] {
		return []string{"pE " + path + " %E001:Not exists"}
	}
	n, _ := strconv.Atoi(m[2])
	names, limit := l.inNames, l.inputs
	if m[1] == "O" {
		names, limit = l.outNames, l.outputs
	}
	if n < 1 || n > limit {
		return []string{"pE " + path + " %E001:Not exists"}
	}
	names[n] = value
	return []string{fmt.Sprintf("pw %s=%d;%s", path, n, value)}
}

func (l *Lightware) call(cmd string) []string {
	m := lw3Switch.FindStringSubmatch(cmd)
	if m == nil {
		return []string{"mE " + cmd + " %E001:Syntax error"}
	}
	in, _ := strconv.Atoi(m[1])
	out, _ := strconv.Atoi(m[2])
	if in < 0 || in > l.inputs || out < 1 || out > l.outputs {
		return []string{"mE /MEDIA/XP/VIDEO:switch %E003:Invalid port"}
	}
	l.routes[out] = in
	return []string{"mO /MEDIA/XP/VIDEO:switch="}
}
