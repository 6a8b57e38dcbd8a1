package main

import (
	"bufio"
	"os"
	"strings"

	"balldrop.ai/internal/sim/tuning"
)

// loadNames reads one participant per line. Blank lines and lines starting
// with '#' are skipped.
func loadNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cleanNames(names), nil
}

// cleanNames trims names, drops empty ones and caps the list at the
// participant ceiling.
func cleanNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if len(n) > 32 {
			n = n[:32]
		}
		out = append(out, n)
		if len(out) == tuning.MaxParticipants {
			break
		}
	}
	return out
}
