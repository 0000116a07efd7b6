package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kayz/tavernkit/internal/logger"
)

type requestState struct {
	cancel  context.CancelFunc
	stream  bool
	opts     Options
	aborted  bool
	finished bool
}

// Generator runs generation requests and keeps track of the ones in flight.
type Generator struct {
	resolver Resolver

	mu       sync.Mutex
	requests map[string]*requestState
}

func NewGenerator(resolver Resolver) *Generator {
	return &Generator{resolver: resolver, requests: make(map[string]*requestState)}
}

// Generate sends req and blocks until it finishes or is aborted. The request
// id is returned in every case; errors are also reported through OnFinish.
// An aborted request returns a nil error.
func (g *Generator) Generate(ctx context.Context, req Request, opts Options) (string, error) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &requestState{cancel: cancel, stream: req.Stream, opts: opts}
	g.mu.Lock()
	g.requests[id] = state
	g.mu.Unlock()
	defer g.forget(id)

	err := g.run(ctx, id, req, state)
	if err != nil && g.isAborted(state) {
		return id, nil
	}
	if err != nil {
		logger.Warn("Generation %s failed: %v", id, err)
		g.finish(state, nil, err)
	}
	return id, err
}

func (g *Generator) run(ctx context.Context, id string, req Request, state *requestState) error {
	if req.Prompt.empty() {
		return ErrEmptyPrompt
	}
	sender, profile, err := g.resolver.Resolve(req.ProfileID)
	if err != nil {
		return fmt.Errorf("resolve profile %s: %w", req.ProfileID, err)
	}
	stop := req.StopStrings
	if len(stop) == 0 {
		stop = profile.StopSequences()
	}
	sreq := SendRequest{Model: profile.Model, Prompt: req.Prompt, MaxTokens: req.MaxTokens, StopStrings: stop}

	if !req.Stream {
		if state.opts.OnStart != nil {
			state.opts.OnStart(id)
		}
		chunk, err := sender.Send(ctx, sreq)
		if err != nil {
			return err
		}
		if g.isAborted(state) {
			return nil
		}
		if state.opts.OnEntry != nil {
			state.opts.OnEntry(chunk)
		}
		g.finish(state, &chunk, nil)
		return nil
	}

	stream, err := sender.Stream(ctx, sreq)
	if err != nil {
		return err
	}
	defer stream.Close()
	if state.opts.OnStart != nil {
		state.opts.OnStart(id)
	}

	var last *Chunk
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if g.isAborted(state) {
			return nil
		}
		last = &chunk
		if state.opts.OnEntry != nil {
			state.opts.OnEntry(chunk)
		}
	}
	g.finish(state, last, nil)
	return nil
}

// finish calls OnFinish unless the request was aborted, which already did.
func (g *Generator) finish(state *requestState, chunk *Chunk, err error) {
	if !g.claimFinish(state) || state.opts.OnFinish == nil {
		return
	}
	state.opts.OnFinish(chunk, err)
}

// claimFinish marks state finished and reports whether the caller is the
// one to call OnFinish.
func (g *Generator) claimFinish(state *requestState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state.aborted || state.finished {
		return false
	}
	state.finished = true
	return true
}

func (g *Generator) isAborted(state *requestState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return state.aborted
}

func (g *Generator) forget(id string) {
	g.mu.Lock()
	delete(g.requests, id)
	g.mu.Unlock()
}

// Abort cancels a running request, reports it finished with neither data nor
// error, and forgets it.
func (g *Generator) Abort(id string) error {
	g.mu.Lock()
	state, ok := g.requests[id]
	notify := false
	if ok {
		state.aborted = true
		notify = !state.finished
		state.finished = true
		delete(g.requests, id)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	state.cancel()
	if notify && state.opts.OnFinish != nil {
		state.opts.OnFinish(nil, nil)
	}
	logger.Debug("Generation %s aborted", id)
	return nil
}

// ActiveRequests returns the ids of requests still running.
func (g *Generator) ActiveRequests() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.requests))
	for id := range g.requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsStreaming reports whether an active request streams.
func (g *Generator) IsStreaming(id string) (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.requests[id]
	if !ok {
		return false, false
	}
	return state.stream, true
}
