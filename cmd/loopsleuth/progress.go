package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"loopsleuth/internal/pipeline"
	"loopsleuth/internal/types"
)

const progressBarWidth = 30

// progressPrinter renders the single-line progress display. It rewrites the
// current line in place; the pipeline reports stage transitions through the
// stage callback.
type progressPrinter struct {
	total   int
	current int
	issues  int
	display string
}

func (p *progressPrinter) nextFunction(fn *types.FunctionInfo) {
	p.current++
	name := fn.DisplayName()
	base := filepath.Base(fn.FilePath)
	p.display = base + "::" + name
}

func (p *progressPrinter) bar() string {
	filled := 0
	if p.total > 0 {
		filled = p.current * progressBarWidth / p.total
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled) + "]"
}

func (p *progressPrinter) pct() int {
	if p.total == 0 {
		return 0
	}
	return p.current * 100 / p.total
}

func (p *progressPrinter) line(marker, detail string) {
	fmt.Printf("\r\x1b[K%s %d%% [%d/%d] | Issues: %d | %s %s",
		p.bar(), p.pct(), p.current, p.total, p.issues, marker, detail)
}

func (p *progressPrinter) skipped() {
	p.line("skip", p.display+" (too large)")
}

func (p *progressPrinter) stage(checkKey string, stage pipeline.Stage) {
	marker := ""
	detail := fmt.Sprintf("[%s] %s", checkKey, p.display)
	switch stage {
	case pipeline.StageGuardSkip:
		marker = "guard"
	case pipeline.StageCacheHit:
		marker = "cached"
	case pipeline.StageDetect:
		marker = "detect"
	case pipeline.StageSolve:
		marker = "solve"
	case pipeline.StageVerify:
		marker = "verify"
	case pipeline.StageError:
		marker = "error"
	}
	p.line(marker, detail)
}
