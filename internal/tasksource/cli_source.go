package tasksource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// CLISource reads task prompts from a reader (stdin in production) and
// writes results to a writer (stdout), one line at a time. Grounded on
// cmd/nexus/main.go's promptString/promptBool bufio.Reader pattern.
type CLISource struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewCLISource builds a CLISource over the given reader/writer pair.
func NewCLISource(in io.Reader, out io.Writer) *CLISource {
	return &CLISource{
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

// Receive blocks for the next non-empty line on the reader.
func (s *CLISource) Receive(ctx context.Context) (TaskInput, error) {
	for {
		select {
		case <-ctx.Done():
			return TaskInput{}, ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return TaskInput{}, err
			}
			return TaskInput{}, ErrClosed
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		return TaskInput{Text: line, Origin: OriginCLI}, nil
	}
}

// Send writes the result (or error) to the configured writer.
func (s *CLISource) Send(ctx context.Context, result TaskResult) error {
	if result.Err != nil {
		_, err := fmt.Fprintf(s.out, "error: %v\n", result.Err)
		return err
	}
	_, err := fmt.Fprintf(s.out, "%s\n", result.Text)
	return err
}
