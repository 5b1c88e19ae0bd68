// Package input expands command arguments that refer to files or stdin.
// A value of "-" reads standard input, "@path" reads a file and "@@text"
// stands for the literal "@text".
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stdin is read for "-" values
var Stdin io.Reader = os.Stdin

// ErrStdinUsed is returned when more than one value asks for stdin
var ErrStdinUsed = errors.New("stdin can only be read once per command")

// Reader expands values for one command, tracking whether stdin was consumed
type Reader struct {
	stdinUsed bool
}

// Value expands a single text argument. File and stdin contents are returned
// whole, minus one trailing newline.
func (r *Reader) Value(arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := r.readStdin()
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(string(data), "\n"), nil
	case strings.HasPrefix(arg, "@@"):
		return arg[1:], nil
	case strings.HasPrefix(arg, "@") && len(arg) > 1:
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", arg[1:], err)
		}
		return strings.TrimSuffix(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"), nil
	}
	return arg, nil
}

// Lines expands list arguments: "-" and "@path" contribute one entry per
// non-blank line, other values pass through
func (r *Reader) Lines(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		switch {
		case arg == "-":
			data, err := r.readStdin()
			if err != nil {
				return nil, err
			}
			out = append(out, ReadLines(strings.NewReader(string(data)))...)
		case strings.HasPrefix(arg, "@@"):
			out = append(out, arg[1:])
		case strings.HasPrefix(arg, "@") && len(arg) > 1:
			f, err := os.Open(arg[1:])
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", arg[1:], err)
			}
			out = append(out, ReadLines(f)...)
			f.Close()
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func (r *Reader) readStdin() ([]byte, error) {
	if r.stdinUsed {
		return nil, ErrStdinUsed
	}
	r.stdinUsed = true
	return io.ReadAll(Stdin)
}

// ReadLines returns the trimmed non-blank lines of rd
func ReadLines(rd io.Reader) []string {
	var lines []string
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
