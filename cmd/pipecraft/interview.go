// ABOUTME: An interactive Interviewer that prompts on stdout and reads a line from stdin.
// ABOUTME: Used for "pipecraft run" without -auto-approve or -simulate, so wait.human nodes pause for real input.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pipecraft/pipecraft/runtime"
)

// stdinInterviewer answers wait.human questions by printing the prompt and
// options to out and reading a single line from in.
type stdinInterviewer struct {
	in  io.Reader
	out io.Writer
}

func newStdinInterviewer(in io.Reader, out io.Writer) *stdinInterviewer {
	return &stdinInterviewer{in: in, out: out}
}

func (s *stdinInterviewer) Ask(ctx context.Context, q runtime.Question) (runtime.Answer, error) {
	if err := ctx.Err(); err != nil {
		return runtime.Answer{}, err
	}

	fmt.Fprintf(s.out, "[%s] %s\n", q.NodeID, q.Prompt)
	for _, opt := range q.Options {
		fmt.Fprintf(s.out, "  - %s\n", opt)
	}
	fmt.Fprint(s.out, "> ")

	type readResult struct {
		line string
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		if scanner.Scan() {
			ch <- readResult{line: strings.TrimSpace(scanner.Text())}
			return
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		ch <- readResult{err: err}
	}()

	select {
	case <-ctx.Done():
		return runtime.Answer{}, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return runtime.Answer{Value: runtime.AnswerSkipped}, nil
		}
		if res.line == "" {
			return runtime.Answer{Value: runtime.AnswerTimeout}, nil
		}
		return runtime.Answer{Value: res.line}, nil
	}
}
