package anthropic

import (
	"context"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/flow/model"
)

// anthropicStreamer adapts an Anthropic Messages streaming stream to the
// model.Streamer interface. It pumps SDK events on a private goroutine,
// forwards text deltas as they arrive, and finishes with a final chunk
// carrying the assembled response.
type anthropicStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newAnthropicStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	as := &anthropicStreamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.Chunk, 32),
	}
	go as.run()
	return as
}

func (s *anthropicStreamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *anthropicStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *anthropicStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	var (
		text  strings.Builder
		usage model.TokenUsage
		stop  string
	)
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(wrapAnthropicError("messages.stream", err))
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			}
			return
		}
		switch ev := s.stream.Current().AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			delta, ok := ev.Delta.AsAny().(sdk.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			text.WriteString(delta.Text)
			if err := s.emit(model.Chunk{Type: model.ChunkTypeText, Text: delta.Text}); err != nil {
				s.setErr(err)
				return
			}
		case sdk.MessageDeltaEvent:
			stop = string(ev.Delta.StopReason)
			usage = model.TokenUsage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
				TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			}
		case sdk.MessageStopEvent:
			final := model.Chunk{Type: model.ChunkTypeFinal, Response: &model.Response{
				Text:         text.String(),
				FinishReason: stop,
				Usage:        usage,
			}}
			if err := s.emit(final); err != nil {
				s.setErr(err)
			}
			return
		}
	}
}

func (s *anthropicStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *anthropicStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet || err == nil {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *anthropicStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
