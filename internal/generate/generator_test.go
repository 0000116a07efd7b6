package generate

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/kayz/tavernkit/internal/promptbuild"
)

type fakeSender struct {
	reply   Chunk
	chunks  []Chunk
	err     error
	block   bool
	sent    []SendRequest
	streams int
}

func (f *fakeSender) Send(ctx context.Context, req SendRequest) (Chunk, error) {
	f.sent = append(f.sent, req)
	if f.block {
		<-ctx.Done()
		return Chunk{}, ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeSender) Stream(_ context.Context, req SendRequest) (Stream, error) {
	f.sent = append(f.sent, req)
	f.streams++
	if f.err != nil {
		return nil, f.err
	}
	return &sliceStream{chunks: f.chunks}, nil
}

type sliceStream struct {
	chunks []Chunk
	closed bool
}

func (s *sliceStream) Recv() (Chunk, error) {
	if len(s.chunks) == 0 {
		return Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type fakeResolver struct {
	sender  Sender
	profile Profile
	err     error
}

func (r fakeResolver) Resolve(string) (Sender, Profile, error) {
	return r.sender, r.profile, r.err
}

type recorder struct {
	events   []string
	entries  []Chunk
	final    *Chunk
	finalErr error
}

func (r *recorder) options() Options {
	return Options{
		OnStart: func(string) { r.events = append(r.events, "start") },
		OnEntry: func(c Chunk) {
			r.events = append(r.events, "entry")
			r.entries = append(r.entries, c)
		},
		OnFinish: func(c *Chunk, err error) {
			r.events = append(r.events, "finish")
			r.final, r.finalErr = c, err
		},
	}
}

var textPrompt = Prompt{Text: "Once upon a time"}

func TestGenerateNonStream(t *testing.T) {
	sender := &fakeSender{reply: Chunk{Content: "hello"}}
	g := NewGenerator(fakeResolver{sender: sender, profile: Profile{Model: "m", StopStrings: "\nUser:"}})
	rec := &recorder{}

	id, err := g.Generate(context.Background(), Request{ProfileID: "p", Prompt: textPrompt, MaxTokens: 50}, rec.options())
	if err != nil || id == "" {
		t.Fatalf("generate: id=%q err=%v", id, err)
	}
	if !reflect.DeepEqual(rec.events, []string{"start", "entry", "finish"}) {
		t.Fatalf("events = %v", rec.events)
	}
	if rec.final == nil || rec.final.Content != "hello" {
		t.Fatalf("final = %+v", rec.final)
	}
	got := sender.sent[0]
	if got.Model != "m" || got.MaxTokens != 50 || !reflect.DeepEqual(got.StopStrings, []string{"\nUser:"}) {
		t.Fatalf("send request = %+v", got)
	}
	if len(g.ActiveRequests()) != 0 {
		t.Fatalf("finished request still active")
	}
}

func TestGenerateStream(t *testing.T) {
	sender := &fakeSender{chunks: []Chunk{{Content: "a", Delta: "a"}, {Content: "ab", Delta: "b"}}}
	g := NewGenerator(fakeResolver{sender: sender})
	rec := &recorder{}

	if _, err := g.Generate(context.Background(), Request{Prompt: textPrompt, Stream: true}, rec.options()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !reflect.DeepEqual(rec.events, []string{"start", "entry", "entry", "finish"}) {
		t.Fatalf("events = %v", rec.events)
	}
	if rec.final == nil || rec.final.Content != "ab" {
		t.Fatalf("final = %+v", rec.final)
	}
}

func TestGenerateErrorGoesToOnFinish(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		stream bool
	}{
		{"plain", false},
		{"stream", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGenerator(fakeResolver{sender: &fakeSender{err: boom}})
			rec := &recorder{}
			_, err := g.Generate(context.Background(), Request{Prompt: textPrompt, Stream: tc.stream}, rec.options())
			if !errors.Is(err, boom) || !errors.Is(rec.finalErr, boom) || rec.final != nil {
				t.Fatalf("err = %v, finish = %v %+v", err, rec.finalErr, rec.final)
			}
		})
	}
}

func TestGenerateRejectsEmptyPromptAndBadProfile(t *testing.T) {
	g := NewGenerator(fakeResolver{sender: &fakeSender{}})
	if _, err := g.Generate(context.Background(), Request{}, Options{}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("err = %v", err)
	}

	g = NewGenerator(fakeResolver{err: errors.New("no such profile")})
	rec := &recorder{}
	if _, err := g.Generate(context.Background(), Request{Prompt: textPrompt}, rec.options()); err == nil || rec.finalErr == nil {
		t.Fatalf("expected resolve error, got %v", err)
	}
}

func TestAbort(t *testing.T) {
	g := NewGenerator(fakeResolver{sender: &fakeSender{block: true}})
	finishes := 0
	var active []string
	opts := Options{
		OnStart: func(id string) {
			active = g.ActiveRequests()
			if err := g.Abort(id); err != nil {
				t.Errorf("abort: %v", err)
			}
		},
		OnEntry: func(Chunk) { t.Errorf("aborted request produced an entry") },
		OnFinish: func(c *Chunk, err error) {
			finishes++
			if c != nil || err != nil {
				t.Errorf("abort should finish with nothing, got %+v %v", c, err)
			}
		},
	}

	id, err := g.Generate(context.Background(), Request{Prompt: textPrompt}, opts)
	if err != nil {
		t.Fatalf("aborted request should not error: %v", err)
	}
	if len(active) != 1 || active[0] != id {
		t.Fatalf("active during run = %v, id = %s", active, id)
	}
	if finishes != 1 {
		t.Fatalf("OnFinish called %d times", finishes)
	}
	if err := g.Abort(id); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("second abort err = %v", err)
	}
}

func TestFinishAndAbortNotifyOnce(t *testing.T) {
	newState := func(calls *int) *requestState {
		return &requestState{
			cancel: func() {},
			opts:   Options{OnFinish: func(*Chunk, error) { *calls++ }},
		}
	}

	t.Run("finish then abort", func(t *testing.T) {
		g := NewGenerator(fakeResolver{})
		calls := 0
		state := newState(&calls)
		g.requests["r"] = state
		g.finish(state, &Chunk{Content: "done"}, nil)
		if err := g.Abort("r"); err != nil {
			t.Fatalf("abort: %v", err)
		}
		if calls != 1 {
			t.Fatalf("OnFinish called %d times", calls)
		}
	})

	t.Run("abort then finish", func(t *testing.T) {
		g := NewGenerator(fakeResolver{})
		calls := 0
		state := newState(&calls)
		g.requests["r"] = state
		if err := g.Abort("r"); err != nil {
			t.Fatalf("abort: %v", err)
		}
		g.finish(state, &Chunk{Content: "late"}, nil)
		if calls != 1 {
			t.Fatalf("OnFinish called %d times", calls)
		}
	})
}

func TestPromptForAPI(t *testing.T) {
	msgs := []promptbuild.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: ""}, {Role: "user", Content: "hi"}}
	if p := PromptForAPI(promptbuild.APITextCompletion, msgs); p.Text != "sys\nhi" || p.Messages != nil {
		t.Fatalf("text prompt = %+v", p)
	}
	if p := PromptForAPI(promptbuild.APIChatCompletion, msgs); len(p.Messages) != 3 {
		t.Fatalf("chat prompt = %+v", p)
	}
}
