// Command rdpqdump disassembles and validates a captured RDP command
// stream: a flat file of big-endian 64-bit command words, the same layout
// Queue.emit hands to CPLink.QueuePush. In batch mode it prints every
// decoded line to stdout and any validator findings to stderr. With -i it drops into
// an interactive pager over the decoded stream, reading raw keystrokes the
// way terminal_host.go reads a terminal MMIO device's input.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.design/x/clipboard"
	"golang.org/x/term"

	"github.com/polypoyo/rdpq/pkg/rdpq/rdpqdebug"
)

func main() {
	var (
		path        = flag.String("file", "", "path to a captured command stream (required)")
		interactive = flag.Bool("i", false, "page through the stream interactively")
		quiet       = flag.Bool("q", false, "suppress disassembly, print only validator findings")
	)
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "rdpqdump: -file is required")
		os.Exit(2)
	}

	words, err := readCommandWords(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdpqdump: %v\n", err)
		os.Exit(1)
	}

	lines := rdpqdebug.Disassemble(words)
	findings := validate(words)

	if *interactive {
		if err := runPager(lines, findings); err != nil {
			fmt.Fprintf(os.Stderr, "rdpqdump: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !*quiet {
		for _, l := range lines {
			fmt.Printf("%6d  %s\n", l.Offset, l.Mnemonic)
		}
	}
	for _, f := range findings {
		fmt.Fprintln(os.Stderr, f.String())
	}
	if hasError(findings) {
		os.Exit(1)
	}
}

// readCommandWords reads a whole capture file into memory and reinterprets
// it as big-endian uint64 command words; the RDP's wire format is
// big-endian regardless of host byte order.
func readCommandWords(path string) ([]uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("%s: length %d is not a multiple of 8 bytes", path, len(raw))
	}
	words := make([]uint64, len(raw)/8)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	return words, nil
}

func validate(words []uint64) []rdpqdebug.Finding {
	state := rdpqdebug.New()
	offset := 0
	for offset < len(words) {
		n := rdpqdebug.CommandLength(words[offset])
		end := offset + n
		if end > len(words) {
			end = len(words)
		}
		state.Validate(offset, words[offset:end])
		offset = end
	}
	return state.Findings
}

func hasError(findings []rdpqdebug.Finding) bool {
	for _, f := range findings {
		if f.Severity == rdpqdebug.Error {
			return true
		}
	}
	return false
}

// runPager drives an interactive raw-terminal view over the decoded
// stream: j/k (or Enter/k) move one line, g/G jump to the ends, y yanks the
// current line to the system clipboard, q quits.
func runPager(lines []rdpqdebug.DisassembledLine, findings []rdpqdebug.Finding) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	clipboardOK := clipboard.Init() == nil

	findingsByOffset := make(map[int][]rdpqdebug.Finding)
	for _, f := range findings {
		findingsByOffset[f.Offset] = append(findingsByOffset[f.Offset], f)
	}

	cur := 0
	buf := make([]byte, 1)
	render := func() {
		fmt.Print("\r\n")
		if cur < len(lines) {
			l := lines[cur]
			fmt.Printf("[%d/%d] %6d  %s\r\n", cur+1, len(lines), l.Offset, l.Mnemonic)
			for _, f := range findingsByOffset[l.Offset] {
				fmt.Printf("         %s\r\n", f.String())
			}
		}
		fmt.Print("(j/k move, g/G ends, y yank, q quit) ")
	}
	render()

	for {
		n, err := syscall.Read(fd, buf)
		if n == 0 || err != nil {
			continue
		}
		switch buf[0] {
		case 'q', 'Q', 3: // 3 = Ctrl-C
			return nil
		case 'j', '\r', '\n':
			if cur < len(lines)-1 {
				cur++
			}
		case 'k':
			if cur > 0 {
				cur--
			}
		case 'g':
			cur = 0
		case 'G':
			cur = len(lines) - 1
		case 'y':
			if clipboardOK && cur < len(lines) {
				clipboard.Write(clipboard.FmtText, []byte(lines[cur].Mnemonic))
			}
		default:
			continue
		}
		render()
	}
}
