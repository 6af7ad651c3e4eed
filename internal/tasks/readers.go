package tasks

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column positions in the scheduler export.
const (
	omJobID          = 3
	omTargetDB       = 5
	omTargetTable    = 6
	omModellingState = 7
	omSourceTables   = 15

	omSuccessState = "model_success"
)

const maxLineSize = 1 << 20

// scanLines calls fn for every non-blank line of r, honouring SkipHeader.
func scanLines(r io.Reader, opts Options, fn func(lineNo int, line string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if lineNo == 1 && opts.SkipHeader {
			continue
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fn(lineNo, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("line %d: %w", lineNo+1, err)
	}
	return nil
}

func readDefault(r io.Reader, opts Options) (*List, error) {
	b := newBuilder()
	err := scanLines(r, opts, func(lineNo int, line string) {
		cols := strings.Split(line, "\t")
		if len(cols) < 3 || strings.TrimSpace(cols[0]) == "" {
			opts.Logger.Warn("skipping malformed task line",
				slog.Int("line", lineNo),
				slog.Int("columns", len(cols)))
			return
		}
		opts.Logger.Debug("reading task", slog.String("id", cols[0]))
		b.add(cols[0], SplitTables(cols[1]), SplitTables(cols[2]))
	})
	if err != nil {
		return nil, err
	}
	return b.list(), nil
}

func readOM(r io.Reader, opts Options) (*List, error) {
	b := newBuilder()
	err := scanLines(r, opts, func(lineNo int, line string) {
		cols := strings.Split(line, "\t")
		if len(cols) < omSourceTables+1 {
			opts.Logger.Warn("skipping malformed scheduler line",
				slog.Int("line", lineNo),
				slog.Int("columns", len(cols)))
			return
		}
		id := strings.TrimSpace(cols[omJobID])
		if id == "" {
			opts.Logger.Warn("skipping scheduler line without job id", slog.Int("line", lineNo))
			return
		}
		if opts.OnlySuccessful && !strings.EqualFold(strings.TrimSpace(cols[omModellingState]), omSuccessState) {
			opts.Logger.Debug("skipping unsuccessful job",
				slog.String("id", id),
				slog.String("state", cols[omModellingState]))
			return
		}

		db := strings.TrimSpace(strings.ReplaceAll(cols[omTargetDB], `"`, ""))
		var targets []string
		for _, t := range SplitTables(omTargetList(cols[omTargetTable])) {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			if db != "" {
				t = db + "." + t
			}
			targets = append(targets, t)
		}
		sources := SplitTables(strings.ReplaceAll(cols[omSourceTables], `"`, ""))

		opts.Logger.Debug("reading task", slog.String("id", id))
		b.add(id, targets, sources)
	})
	if err != nil {
		return nil, err
	}
	return b.list(), nil
}

// omTargetList strips quotes and the trailing "(rowcount)" from the target column.
func omTargetList(col string) string {
	col = strings.ReplaceAll(col, `"`, "")
	if i := strings.Index(col, "("); i >= 0 {
		col = col[:i]
	}
	return col
}

func readYAML(r io.Reader, opts Options) (*List, error) {
	var docs []Descriptor
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		if errors.Is(err, io.EOF) {
			return NewList(), nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	b := newBuilder()
	for i, d := range docs {
		if strings.TrimSpace(d.ID) == "" {
			opts.Logger.Warn("skipping task without id", slog.Int("index", i))
			continue
		}
		b.add(d.ID, d.Targets, d.Sources)
	}
	return b.list(), nil
}
