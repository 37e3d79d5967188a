package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/hnrobert/lumprov/internal/atomicfile"
	"github.com/hnrobert/lumprov/internal/logger"
	"github.com/hnrobert/lumprov/internal/report"
)

// render formats rep as text, markdown or html.
func render(rep *report.Report, format string) ([]byte, error) {
	switch format {
	case "", "text":
		var buf bytes.Buffer
		if err := rep.WriteText(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "markdown":
		return []byte(rep.Markdown()), nil
	case "html":
		s, err := rep.HTML()
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// finish writes the report and turns per-user failures into errRunFailed.
// Reports may hold passwords, so files are written owner-only.
func finish(rep *report.Report, runErr error, out outputOptions) error {
	if rep == nil {
		// nothing ran
		return runErr
	}
	b, err := render(rep, out.Format)
	if err != nil {
		return err
	}
	if out.Report == "" {
		if _, err := os.Stdout.Write(b); err != nil {
			return err
		}
	} else {
		if err := atomicfile.WriteFile(out.Report, b, 0o600); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written to %s", out.Report)
	}
	if runErr != nil {
		logger.Error("%v", runErr)
		return errRunFailed
	}
	if rep.Failed() {
		return errRunFailed
	}
	return nil
}
