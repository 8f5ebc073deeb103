package bedrock

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/flow/model"
)

// bedrockStreamer adapts a Bedrock ConverseStream event stream to the
// model.Streamer interface. Text deltas are forwarded as they arrive; the
// final chunk is assembled once the event channel closes because Bedrock
// reports usage in a trailing metadata event after message stop.
type bedrockStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newBedrockStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	bs := &bedrockStreamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.Chunk, 32),
	}
	go bs.run()
	return bs
}

func (s *bedrockStreamer) Recv() (model.Chunk, error) {
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

func (s *bedrockStreamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

func (s *bedrockStreamer) run() {
	defer close(s.chunks)
	defer func() { _ = s.stream.Close() }()

	var (
		text    strings.Builder
		usage   model.TokenUsage
		stop    string
		sawStop bool
	)
	events := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(wrapBedrockError("converse_stream", err))
					return
				}
				if err := s.ctx.Err(); err != nil {
					s.setErr(err)
					return
				}
				if sawStop {
					final := model.Chunk{Type: model.ChunkTypeFinal, Response: &model.Response{
						Text:         text.String(),
						FinishReason: stop,
						Usage:        usage,
					}}
					if err := s.emit(final); err != nil {
						s.setErr(err)
					}
				}
				return
			}
			switch ev := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				delta, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberText)
				if !ok || delta.Value == "" {
					continue
				}
				text.WriteString(delta.Value)
				if err := s.emit(model.Chunk{Type: model.ChunkTypeText, Text: delta.Value}); err != nil {
					s.setErr(err)
					return
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				stop = string(ev.Value.StopReason)
				sawStop = true
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if u := ev.Value.Usage; u != nil {
					if t := u.InputTokens; t != nil {
						usage.InputTokens = int(*t)
					}
					if t := u.OutputTokens; t != nil {
						usage.OutputTokens = int(*t)
					}
					if t := u.TotalTokens; t != nil {
						usage.TotalTokens = int(*t)
					}
				}
			}
		}
	}
}

func (s *bedrockStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *bedrockStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet || err == nil {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *bedrockStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
