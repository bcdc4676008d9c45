package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/zbulk/pulse/bulk"
)

// consoleSink prints job events as they happen. The runner serializes
// emits, so no locking is needed here.
type consoleSink struct {
	quiet bool // print failures only
	done  int
	total int
}

func newConsoleSink(total int, quiet bool) *consoleSink {
	return &consoleSink{total: total, quiet: quiet}
}

// Emit prints e with a printer matching its severity
func (c *consoleSink) Emit(e bulk.Event) {
	if e.Type == bulk.EventItemResult {
		c.done++
		if c.quiet && e.Result != nil && e.Result.Success {
			return
		}
	}
	eventPrinter(e).Println(c.progress(e) + describeEvent(e))
}

// progress prefixes item results with done/total
func (c *consoleSink) progress(e bulk.Event) string {
	if e.Type != bulk.EventItemResult || c.total == 0 {
		return ""
	}
	return fmt.Sprintf("[%d/%d] ", c.done, c.total)
}

func eventPrinter(e bulk.Event) *pterm.PrefixPrinter {
	switch e.Type {
	case bulk.EventItemResult:
		if e.Result != nil && e.Result.Success {
			return &pterm.Success
		}
		return &pterm.Error
	case bulk.EventJobPaused, bulk.EventEnded:
		return &pterm.Warning
	case bulk.EventComplete:
		return &pterm.Success
	case bulk.EventError:
		return &pterm.Error
	default:
		return &pterm.Info
	}
}

// describeEvent renders the one-line console text for e
func describeEvent(e bulk.Event) string {
	switch e.Type {
	case bulk.EventItemResult:
		if e.Result == nil {
			return "result without outcome"
		}
		r := e.Result
		line := fmt.Sprintf("row %d %s", r.Row, r.Identifier)
		if r.Success {
			if r.Details != "" {
				line += ": " + r.Details
			}
			return line
		}
		line += " failed"
		if r.FailureReason != "" {
			line += " (" + string(r.FailureReason) + ")"
		}
		if r.Details != "" {
			line += ": " + r.Details
		}
		return line
	case bulk.EventJobPaused:
		if e.Reason == bulk.PauseReasonUser {
			return "Paused. Type 'resume' or 'end'"
		}
		return fmt.Sprintf("Auto-paused after %d consecutive failures. Type 'resume' or 'end'", e.Failures)
	case bulk.EventJobResumed:
		return "Resumed"
	case bulk.EventCountdown:
		return fmt.Sprintf("Next batch in %ds", e.Seconds)
	case bulk.EventComplete:
		return "Complete: " + describeSummary(e.Summary)
	case bulk.EventEnded:
		return "Ended: " + describeSummary(e.Summary)
	case bulk.EventError:
		return "Job failed: " + e.Message
	default:
		return string(e.Type)
	}
}

func describeSummary(s *bulk.Summary) string {
	if s == nil {
		return "no summary"
	}
	return fmt.Sprintf("%d succeeded, %d failed, %d skipped of %d",
		s.Succeeded, s.Failed, s.Skipped, s.Total)
}

// jobController is the part of the engine the console drives
type jobController interface {
	PauseJob(key bulk.JobKey) bool
	ResumeJob(key bulk.JobKey) bool
	EndJob(key bulk.JobKey) bool
}

// readControlCommands applies pause/resume/end lines from r to the job
// until r is exhausted
func readControlCommands(r io.Reader, engine jobController, key bulk.JobKey) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "p", "pause":
			engine.PauseJob(key)
		case "r", "resume":
			engine.ResumeJob(key)
		case "e", "end", "q", "quit":
			engine.EndJob(key)
		case "":
		default:
			pterm.Warning.Println("Commands: pause, resume, end")
		}
	}
}
