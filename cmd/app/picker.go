package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// stdinPicker asks for a directory on the terminal. An empty answer cancels.
type stdinPicker struct {
	in  io.Reader
	out io.Writer
}

func (p stdinPicker) PickDirectory(ctx context.Context) (string, error) {
	fmt.Fprint(p.out, "Directory to save received files (empty to cancel): ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return "", a.err
		}
		dir := strings.TrimSpace(a.line)
		if dir == "" {
			return "", nil
		}
		info, err := os.Stat(dir)
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%s is not a directory", dir)
		}
		return dir, nil
	}
}
