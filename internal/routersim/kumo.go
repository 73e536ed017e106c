package routersim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ziutek/telnet"
)

var (
	kumoLabelParam  = regexp.MustCompile(`^eParamID_XPT_(Source|Destination)(\d+)_Line_1$`)
	kumoStatusParam = regexp.MustCompile(`^eParamID_XPT_Destination(\d+)_Status$`)
	kumoQuery       = regexp.MustCompile(`^LABEL (INPUT|OUTPUT) (\d+) \?$`)
	kumoSet         = regexp.MustCompile(`^LABEL (INPUT|OUTPUT) (\d+) "((?:[^"\\]|\\.)*)"$`)
)

// Kumo simulates a KUMO router: the HTTP config API and the Telnet console.
type Kumo struct {
	mu       sync.Mutex
	name     string
	firmware string
	inputs   int
	outputs  int
	inLabel  map[int]string
	outLabel map[int]string
	routes   map[int]int

	failGet   map[string]bool
	failSet   map[string]bool
	nullOnce  map[string]int
	getCount  map[string]int
	httpDown  bool
	telnetOff bool
	saves     int

	http   *httptest.Server
	telnet *tcpServer
}

// NewKumo returns a KUMO with the given geometry and default labels.
func NewKumo(inputs, outputs int) *Kumo {
	k := &Kumo{
		name:     "KUMO-SIM",
		firmware: "5.2.0.1",
		inputs:   inputs,
		outputs:  outputs,
		inLabel:  map[int]string{},
		outLabel: map[int]string{},
		routes:   map[int]int{},
		failGet:  map[string]bool{},
		failSet:  map[string]bool{},
		nullOnce: map[string]int{},
		getCount: map[string]int{},
	}
	for i := 1; i <= inputs; i++ {
		k.inLabel[i] = fmt.Sprintf("Camera %d", i)
	}
	for o := 1; o <= outputs; o++ {
		k.outLabel[o] = fmt.Sprintf("Monitor %d", o)
		k.routes[o] = 1
	}
	return k
}

// Start opens the HTTP and Telnet listeners.
func (k *Kumo) Start() error {
	k.http = httptest.NewServer(http.HandlerFunc(k.serveHTTP))
	t, err := startTCP(k.serveTelnet)
	if err != nil {
		k.http.Close()
		return err
	}
	k.telnet = t
	return nil
}

func (k *Kumo) Close() {
	k.http.Close()
	k.telnet.close()
}

func (k *Kumo) HTTPPort() int {
	return k.http.Listener.Addr().(*net.TCPAddr).Port
}

func (k *Kumo) TelnetPort() int { return k.telnet.port() }

// Label returns the stored label of a port.
func (k *Kumo) Label(output bool, port int) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if output {
		return k.outLabel[port]
	}
	return k.inLabel[port]
}

func (k *Kumo) SetLabel(output bool, port int, text string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if output {
		k.outLabel[port] = text
	} else {
		k.inLabel[port] = text
	}
}

// Route returns the 1-based input routed to a 1-based output.
func (k *Kumo) Route(output int) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.routes[output]
}

// FailGet makes HTTP reads of param answer 500.
func (k *Kumo) FailGet(param string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failGet[param] = true
}

// FailSet makes HTTP writes of param answer 500.
func (k *Kumo) FailSet(param string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failSet[param] = true
}

// NullOnce makes the next n reads of param return a null value.
func (k *Kumo) NullOnce(param string, n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nullOnce[param] = n
}

// SetHTTPDown makes every port query answer 503.
func (k *Kumo) SetHTTPDown(down bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.httpDown = down
}

// DisableTelnet makes the console drop every connection.
func (k *Kumo) DisableTelnet() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.telnetOff = true
}

// GetCount reports how many HTTP reads of param were served.
func (k *Kumo) GetCount(param string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.getCount[param]
}

// Saves reports how many SAVE commands the console received.
func (k *Kumo) Saves() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.saves
}

func (k *Kumo) serveHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if r.URL.Path != "/config" || q.Get("configid") != "0" {
		http.NotFound(w, r)
		return
	}
	param := q.Get("paramid")

	k.mu.Lock()
	defer k.mu.Unlock()

	switch q.Get("action") {
	case "get":
		k.getCount[param]++
		if k.failGet[param] || (k.httpDown && param != "eParamID_SysName") {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if n := k.nullOnce[param]; n > 0 {
			k.nullOnce[param] = n - 1
			writeJSON(w, map[string]any{"paramid": param, "value": nil})
			return
		}
		value, name, ok := k.lookup(param)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"paramid": param, "value": value, "value_name": name})

	case "set":
		if k.failSet[param] || k.httpDown {
			http.Error(w, "rejected", http.StatusInternalServerError)
			return
		}
		if !k.store(param, q.Get("value")) {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"paramid": param, "value": q.Get("value")})

	default:
		http.Error(w, "bad action", http.StatusBadRequest)
	}
}

func (k *Kumo) lookup(param string) (any, string, bool) {
	switch param {
	case "eParamID_SysName":
		return k.name, k.name, true
	case "eParamID_SWVersion":
		return k.firmware, "", true
	}
	if m := kumoLabelParam.FindStringSubmatch(param); m != nil {
		n, _ := strconv.Atoi(m[2])
		if m[1] == "Source" && n >= 1 && n <= k.inputs {
			return k.inLabel[n], k.inLabel[n], true
		}
		if m[1] == "Destination" && n >= 1 && n <= k.outputs {
			return k.outLabel[n], k.outLabel[n], true
		}
		return nil, "", false
	}
	if m := kumoStatusParam.FindStringSubmatch(param); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= k.outputs {
			return k.routes[n], "", true
		}
	}
	return nil, "", false
}

func (k *Kumo) store(param, value string) bool {
	if m := kumoLabelParam.FindStringSubmatch(param); m != nil {
		n, _ := strconv.Atoi(m[2])
		if m[1] == "Source" && n >= 1 && n <= k.inputs {
			k.inLabel[n] = value
			return true
		}
		if m[1] == "Destination" && n >= 1 && n <= k.outputs {
			k.outLabel[n] = value
			return true
		}
		return false
	}
	if m := kumoStatusParam.FindStringSubmatch(param); m != nil {
		n, _ := strconv.Atoi(m[1])
		in, err := strconv.Atoi(value)
		if n < 1 || n > k.outputs || err != nil || in < 1 || in > k.inputs {
			return false
		}
		k.routes[n] = in
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (k *Kumo) serveTelnet(conn net.Conn, r *bufio.Reader) {
	k.mu.Lock()
	off := k.telnetOff
	k.mu.Unlock()
	if off {
		return
	}

	// Client option replies arrive inline with the commands.
	session, err := telnet.NewConn(conn)
	if err != nil {
		return
	}
	r = bufio.NewReader(session)

	// IAC WILL ECHO, IAC WILL SUPPRESS-GO-AHEAD, then the banner.
	_, _ = conn.Write([]byte{0xFF, 0xFB, 0x01, 0xFF, 0xFB, 0x03})
	_, _ = conn.Write([]byte("AJA KUMO console\r\n> "))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		reply := k.console(strings.TrimRight(line, "\r\n"))
		if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
			return
		}
	}
}

func (k *Kumo) console(cmd string) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	if m := kumoQuery.FindStringSubmatch(cmd); m != nil {
		n, _ := strconv.Atoi(m[2])
		labels, limit := k.inLabel, k.inputs
		if m[1] == "OUTPUT" {
			labels, limit = k.outLabel, k.outputs
		}
		if n < 1 || n > limit {
			return "ERROR port out of range"
		}
		return fmt.Sprintf("LABEL %s %d \"%s\"", m[1], n, consoleQuote(labels[n]))
	}
	if m := kumoSet.FindStringSubmatch(cmd); m != nil {
		n, _ := strconv.Atoi(m[2])
		labels, limit := k.inLabel, k.inputs
		if m[1] == "OUTPUT" {
			labels, limit = k.outLabel, k.outputs
		}
		if n < 1 || n > limit {
			return "ERROR port out of range"
		}
		labels[n] = consoleUnquote(m[3])
		return "OK"
	}
	if cmd == "SAVE" {
		k.saves++
		return "OK"
	}
	return "ERROR unknown command"
}

func consoleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func consoleUnquote(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
