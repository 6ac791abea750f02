package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"deployd/pkg/sdk/types"
)

// Progress renders the progress events of one or more deploys.
type Progress struct {
	mu        sync.Mutex
	observers map[string]*stepObserver
	newRender func(target string) func(stepSnapshot)
	closeFn   func()
}

// NewProgress draws a live checklist on an interactive terminal when a
// single target deploys, and plain step lines otherwise.
func NewProgress(out io.Writer, targets int) *Progress {
	p := &Progress{observers: make(map[string]*stepObserver)}
	if IsInteractive() && targets == 1 {
		checklist := NewChecklist(out)
		p.newRender = func(string) func(stepSnapshot) { return checklist.OnSnapshot }
		p.closeFn = checklist.Close
		return p
	}

	p.newRender = func(target string) func(stepSnapshot) {
		prefix := ""
		if targets > 1 {
			prefix = target + " "
		}
		return newLineTelemetry(out, prefix).OnSnapshot
	}
	p.closeFn = func() {}
	return p
}

// OnEvent is safe for concurrent use by several deploys.
func (p *Progress) OnEvent(ev types.ProgressEvent) {
	if p == nil {
		return
	}
	p.mu.Lock()
	obs, ok := p.observers[ev.AttemptID]
	if !ok {
		obs = newStepObserver(p.newRender(ev.Target))
		p.observers[ev.AttemptID] = obs
	}
	p.mu.Unlock()
	obs.OnEvent(ev)
}

func (p *Progress) Close() {
	if p == nil || p.closeFn == nil {
		return
	}
	p.closeFn()
}

// lineTelemetry prints one line per step status change.
type lineTelemetry struct {
	out      io.Writer
	prefix   string
	mu       sync.Mutex
	status   map[string]stepStatus
	messages map[string]string
}

func newLineTelemetry(out io.Writer, prefix string) *lineTelemetry {
	return &lineTelemetry{
		out:      out,
		prefix:   prefix,
		status:   make(map[string]stepStatus),
		messages: make(map[string]string),
	}
}

func (l *lineTelemetry) OnSnapshot(snapshot stepSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, step := range snapshot.Steps {
		if step.Status == stepPending {
			continue
		}
		prevStatus, seen := l.status[step.ID]
		if seen && prevStatus == step.Status && l.messages[step.ID] == step.Message {
			continue
		}
		l.status[step.ID] = step.Status
		l.messages[step.ID] = step.Message
		fmt.Fprintln(l.out, l.prefix+formatStepLine(step, step.Message))
	}
}

func formatStepLine(step stepState, msg string) string {
	prefix := "[..]"
	switch step.Status {
	case stepRunning:
		prefix = "[->]"
	case stepDone:
		prefix = "[ok]"
	case stepFailed:
		prefix = "[x]"
	case stepSkipped:
		prefix = "[--]"
	}

	indent := "  "
	if strings.TrimSpace(step.ParentID) != "" {
		indent = "    "
	}

	title := strings.TrimSpace(step.Title)
	if title == "" {
		title = strings.TrimSpace(step.ID)
	}
	if msg != "" {
		return fmt.Sprintf("%s%s %s (%s)", indent, prefix, title, msg)
	}
	return fmt.Sprintf("%s%s %s", indent, prefix, title)
}
