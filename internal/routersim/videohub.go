package routersim

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Videohub simulates a Blackmagic Videohub on the text protocol.
type Videohub struct {
	mu        sync.Mutex
	model     string
	friendly  string
	inputs    int
	outputs   int
	inLabels  []string
	outLabels []string
	routing   []int

	// OmitEndPrelude leaves out the END PRELUDE marker from the dump.
	OmitEndPrelude bool
	// OmitTrailingBlank drops the blank line after the input label block.
	OmitTrailingBlank bool
	// OmitCounts leaves the port counts out of the device block.
	OmitCounts bool
	// OmitRoutingBlank ends the reply to a routing query without its blank
	// line, leaving the block open.
	OmitRoutingBlank bool

	ackLabels bool
	nakBlocks int
	silent    bool
	blocks    int

	srv *tcpServer
}

// NewVideohub returns a Videohub with default labels and input n routed to
// output n where possible.
func NewVideohub(inputs, outputs int) *Videohub {
	v := &Videohub{
		model:     "Blackmagic Smart Videohub 12G 40x40",
		friendly:  "Studio Hub",
		inputs:    inputs,
		outputs:   outputs,
		inLabels:  make([]string, inputs),
		outLabels: make([]string, outputs),
		routing:   make([]int, outputs),
		ackLabels: true,
	}
	for i := range v.inLabels {
		v.inLabels[i] = fmt.Sprintf("Input %d", i+1)
	}
	for o := range v.outLabels {
		v.outLabels[o] = fmt.Sprintf("Output %d", o+1)
		v.routing[o] = o % inputs
	}
	return v
}

func (v *Videohub) Start() error {
	srv, err := startTCP(v.serve)
	if err != nil {
		return err
	}
	v.srv = srv
	return nil
}

func (v *Videohub) Close()    { v.srv.close() }
func (v *Videohub) Port() int { return v.srv.port() }

// DropClients closes open connections, as a device reboot would.
func (v *Videohub) DropClients() { v.srv.dropClients() }

// SetAckLabels controls whether label blocks are acknowledged.
func (v *Videohub) SetAckLabels(ack bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ackLabels = ack
}

// NakNext answers the next n written blocks with NAK.
func (v *Videohub) NakNext(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nakBlocks = n
}

// SetSilent stops the simulator from answering anything after the dump.
func (v *Videohub) SetSilent(silent bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.silent = silent
}

// BlocksReceived counts the blocks written by clients.
func (v *Videohub) BlocksReceived() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.blocks
}

// Label returns a label by 0-based wire index.
func (v *Videohub) Label(output bool, index int) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if output {
		return v.outLabels[index]
	}
	return v.inLabels[index]
}

// Route returns the 0-based input routed to a 0-based output.
func (v *Videohub) Route(output int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.routing[output]
}

func (v *Videohub) serve(conn net.Conn, r *bufio.Reader) {
	if _, err := conn.Write([]byte(v.dump())); err != nil {
		return
	}

	var header string
	var lines []string
	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line := strings.TrimRight(raw, "\r\n")
		switch {
		case line == "" && header != "":
			reply := v.handle(header, lines)
			header, lines = "", nil
			if reply != "" {
				if _, err := conn.Write([]byte(reply)); err != nil {
					return
				}
			}
		case strings.HasSuffix(line, ":") && header == "":
			header = strings.TrimSuffix(line, ":")
		case header != "":
			lines = append(lines, line)
		}
	}
}

func (v *Videohub) dump() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	b.WriteString("PROTOCOL PREAMBLE:\nVersion: 2.8\n\n")
	b.WriteString("VIDEOHUB DEVICE:\nDevice present: true\n")
	fmt.Fprintf(&b, "Model name: %s\nFriendly name: %s\nUnique ID: 7C2E0D021714\n", v.model, v.friendly)
	if !v.OmitCounts {
		fmt.Fprintf(&b, "Video inputs: %d\nVideo processing units: 0\nVideo outputs: %d\nVideo monitoring outputs: 0\nSerial ports: 0\n", v.inputs, v.outputs)
	}
	b.WriteString("\n")
	b.WriteString(labelBlock("INPUT LABELS", v.inLabels))
	if v.OmitTrailingBlank {
		s := b.String()
		b.Reset()
		b.WriteString(strings.TrimSuffix(s, "\n"))
	}
	b.WriteString(labelBlock("OUTPUT LABELS", v.outLabels))
	b.WriteString(v.routingBlock())
	if !v.OmitEndPrelude {
		b.WriteString("END PRELUDE:\n\n")
	}
	return b.String()
}

func (v *Videohub) handle(header string, lines []string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.blocks++

	if v.silent {
		return ""
	}
	if header == "PING" {
		return "ACK\n\n"
	}
	if len(lines) > 0 && v.nakBlocks > 0 {
		v.nakBlocks--
		return "NAK\n\n"
	}

	switch header {
	case "INPUT LABELS", "OUTPUT LABELS":
		target := v.inLabels
		if header == "OUTPUT LABELS" {
			target = v.outLabels
		}
		if len(lines) == 0 {
			return "ACK\n\n" + labelBlock(header, target)
		}
		changed := applyLabelLines(target, lines)
		if !v.ackLabels {
			return ""
		}
		return "ACK\n\n" + labelBlock(header, changed)

	case "VIDEO OUTPUT ROUTING":
		if len(lines) == 0 {
			if v.OmitRoutingBlank {
				return "ACK\n\n" + strings.TrimSuffix(v.routingBlock(), "\n")
			}
			return "ACK\n\n" + v.routingBlock()
		}
		for _, l := range lines {
			out, in, ok := indexPair(l)
			if !ok || out < 0 || out >= v.outputs || in < 0 || in >= v.inputs {
				return "NAK\n\n"
			}
			v.routing[out] = in
		}
		return "ACK\n\nVIDEO OUTPUT ROUTING:\n" + strings.Join(lines, "\n") + "\n\n"
	}
	return "NAK\n\n"
}

func (v *Videohub) routingBlock() string {
	var b strings.Builder
	b.WriteString("VIDEO OUTPUT ROUTING:\n")
	for out, in := range v.routing {
		fmt.Fprintf(&b, "%d %d\n", out, in)
	}
	b.WriteString("\n")
	return b.String()
}

func labelBlock(header string, labels []string) string {
	var b strings.Builder
	b.WriteString(header + ":\n")
	for i, l := range labels {
		if l == "" {
			continue
		}
		fmt.Fprintf(&b, "%d %s\n", i, l)
	}
	b.WriteString("\n")
	return b.String()
}

// applyLabelLines updates target and returns the changed entries only, in
// wire order, with every other slot left empty.
func applyLabelLines(target []string, lines []string) []string {
	changed := make([]string, len(target))
	for _, l := range lines {
		idx, text, _ := strings.Cut(l, " ")
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= len(target) {
			continue
		}
		target[i] = text
		changed[i] = text
	}
	return changed
}

func indexPair(line string) (int, int, bool) {
	a, b, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return 0, 0, false
	}
	x, err1 := strconv.Atoi(a)
	y, err2 := strconv.Atoi(b)
	return x, y, err1 == nil && err2 == nil
}
