// Package agent runs the bounded tool-use conversation with the model.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/courserag/internal/llm"
)

const (
	// MaxRounds is the number of tool rounds before a forced tool-free call.
	MaxRounds = 2

	// AbortMessage is returned when the model asked for tools but no tool
	// results could be produced.
	AbortMessage = "I encountered an error while processing your request."

	defaultMaxTokens = 800
)

// Model generates one assistant turn. *llm.Client satisfies it.
type Model interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ToolRunner exposes tool definitions and runs tools by name.
// *tools.Dispatcher satisfies it.
type ToolRunner interface {
	Definitions() []llm.Tool
	Invoke(ctx context.Context, name string, input json.RawMessage) (string, error)
}

// StagedRunner is a ToolRunner that separates running a call from recording
// its side effects. The loop stages every call of a round concurrently and
// applies the returned commits in request order after the round finishes.
// *tools.Dispatcher satisfies it.
type StagedRunner interface {
	ToolRunner
	Stage(ctx context.Context, name string, input json.RawMessage) (string, func(), error)
}

// Options configures a Loop.
type Options struct {
	MaxTokens int
	Logger    *slog.Logger
}

// Loop drives the Deciding -> Executing -> Done state machine.
type Loop struct {
	model     Model
	maxTokens int
	logger    *slog.Logger
}

// New creates a Loop around model.
func New(model Model, opts Options) *Loop {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{model: model, maxTokens: opts.MaxTokens, logger: opts.Logger}
}

// ToolCall records one dispatched tool call.
type ToolCall struct {
	Round   int
	ID      string
	Name    string
	Input   json.RawMessage
	Output  string
	IsError bool
}

// Trace summarizes a Run.
type Trace struct {
	ModelCalls int
	Rounds     int
	ToolCalls  []ToolCall
	// Forced is set when the final answer came from the tool-free call made
	// after MaxRounds.
	Forced bool
	// Aborted is set when the run ended with AbortMessage.
	Aborted bool
}

type state int

const (
	deciding state = iota
	executing
	done
)

// Run answers query. history, when non-empty, is appended to the system
// prompt. runner may be nil, in which case no tools are offered. Model
// failures are returned wrapped; tool failures become error results the
// model can see.
func (l *Loop) Run(ctx context.Context, query, history string, runner ToolRunner) (string, Trace, error) {
	var trace Trace
	system := systemText(history)
	conv := []llm.Message{llm.UserText(query)}

	var defs []llm.Tool
	if runner != nil {
		defs = runner.Definitions()
	}

	var resp *llm.Response
	var answer string
	st := deciding
	for st != done {
		switch st {
		case deciding:
			forced := trace.Rounds >= MaxRounds
			req := l.request(system, conv)
			if !forced && len(defs) > 0 {
				req.Tools = defs
				req.ToolChoice = llm.ToolChoiceAuto
			}

			var err error
			resp, err = l.model.Generate(ctx, req)
			trace.ModelCalls++
			if err != nil {
				return "", trace, fmt.Errorf("generating response (round %d): %w", trace.Rounds, err)
			}
			l.logger.Debug("model call", "round", trace.Rounds, "tools", len(req.Tools), "stop_reason", resp.StopReason)

			if forced {
				trace.Forced = true
				answer = resp.Text()
				st = done
			} else if resp.StopReason != llm.StopToolUse {
				answer = resp.Text()
				st = done
			} else {
				st = executing
			}

		case executing:
			results := l.dispatch(ctx, trace.Rounds+1, resp.ToolUses(), runner, &trace)
			if len(results) == 0 {
				l.logger.Warn("tool use requested but no tool results produced", "round", trace.Rounds+1)
				trace.Aborted = true
				return AbortMessage, trace, nil
			}
			conv = append(conv,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
				llm.Message{Role: llm.RoleUser, Content: results},
			)
			trace.Rounds++
			st = deciding
		}
	}
	return answer, trace, nil
}

func (l *Loop) request(system string, conv []llm.Message) llm.Request {
	temp := 0.0
	return llm.Request{
		System:      system,
		Messages:    append([]llm.Message(nil), conv...),
		MaxTokens:   l.maxTokens,
		Temperature: &temp,
	}
}

// dispatch runs every tool_use block concurrently and returns one
// tool_result per block in request order. Commits from a StagedRunner are
// applied in the same order once all calls are done.
func (l *Loop) dispatch(ctx context.Context, round int, uses []llm.ContentBlock, runner ToolRunner, trace *Trace) []llm.ContentBlock {
	if runner == nil || len(uses) == 0 {
		return nil
	}

	results := make([]llm.ContentBlock, len(uses))
	calls := make([]ToolCall, len(uses))
	commits := make([]func(), len(uses))
	var g errgroup.Group
	for i, use := range uses {
		g.Go(func() error {
			out, commit, err := invoke(ctx, runner, use)
			call := ToolCall{Round: round, ID: use.ID, Name: use.Name, Input: use.Input}
			switch {
			case err != nil:
				l.logger.Warn("tool failed", "tool", use.Name, "id", use.ID, "error", err)
				call.Output = fmt.Sprintf("Error executing %s: %v", use.Name, err)
				call.IsError = true
			case out == "":
				call.Output = fmt.Sprintf("Tool %s returned no results", use.Name)
			default:
				call.Output = out
			}
			if err == nil {
				commits[i] = commit
			}
			calls[i] = call
			results[i] = llm.ToolResultBlock(use.ID, call.Output, call.IsError)
			return nil
		})
	}
	g.Wait()

	for _, commit := range commits {
		if commit != nil {
			commit()
		}
	}
	trace.ToolCalls = append(trace.ToolCalls, calls...)
	return results
}

// invoke runs one tool call, converting a panic into an error so sibling
// calls in the round still complete.
func invoke(ctx context.Context, runner ToolRunner, use llm.ContentBlock) (out string, commit func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			out, commit, err = "", nil, fmt.Errorf("panic: %v", r)
		}
	}()
	if sr, ok := runner.(StagedRunner); ok {
		return sr.Stage(ctx, use.Name, use.Input)
	}
	out, err = runner.Invoke(ctx, use.Name, use.Input)
	return out, nil, err
}
