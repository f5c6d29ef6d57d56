// Package service implements the intake workflow on top of a session store:
// conversational turns through the state machine and a single assessment
// run per session through the pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/conversation"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/session"
)

var (
	// ErrNotReady is returned by Process while intake is still collecting.
	ErrNotReady = errors.New("application is not ready for processing")
	// ErrAlreadyProcessed is returned by Process on a session that has
	// already started its assessment run.
	ErrAlreadyProcessed = errors.New("application has already been processed")
)

// Processor runs the assessment pipeline. *orchestrator.Pipeline
// satisfies it.
type Processor interface {
	Process(ctx context.Context, app application.Data) iter.Seq[orchestrator.ProcessingUpdate]
}

// Turn is a session snapshot together with the assistant's reply.
type Turn struct {
	Session  session.Session          `json:"session"`
	Response conversation.TurnResponse `json:"response"`
}

// Service coordinates sessions, the dialogue and the pipeline. It is safe
// for concurrent use when the Store is.
type Service struct {
	store     session.Store
	pipeline  Processor
	agentName string
	log       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAgentName sets the assistant name reported on every turn.
func WithAgentName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.agentName = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Service.
func New(store session.Store, pipeline Processor, opts ...Option) *Service {
	s := &Service{
		store:     store,
		pipeline:  pipeline,
		agentName: conversation.DefaultAgentName,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) machine(sess session.Session) *conversation.Machine {
	return conversation.Restore(sess.State, sess.Data, conversation.WithAgentName(s.agentName))
}

// StartSession creates a session and returns the greeting.
func (s *Service) StartSession(ctx context.Context) (Turn, error) {
	sess := session.New()
	if err := s.store.Create(ctx, sess); err != nil {
		return Turn{}, fmt.Errorf("service: start session: %w", err)
	}
	resp := conversation.NewMachine(conversation.WithAgentName(s.agentName)).Reset()
	s.log.InfoContext(ctx, "session started", "session_id", sess.ID)
	return Turn{Session: sess, Response: resp}, nil
}

// SendMessage applies one user turn to the session.
func (s *Service) SendMessage(ctx context.Context, id, input string) (Turn, error) {
	var resp conversation.TurnResponse
	sess, err := s.store.Update(ctx, id, func(sess *session.Session) error {
		m := s.machine(*sess)
		resp = m.ProcessInput(input)
		sess.State = m.State()
		sess.Data = m.Data()
		return nil
	})
	if err != nil {
		return Turn{}, fmt.Errorf("service: send message: %w", err)
	}
	s.log.DebugContext(ctx, "turn applied",
		"session_id", id, "state", sess.State, "action", resp.Action)
	return Turn{Session: sess, Response: resp}, nil
}

// Reset clears the collected data and returns the session to the greeting.
// A reset session may be processed again once it is complete.
func (s *Service) Reset(ctx context.Context, id string) (Turn, error) {
	var resp conversation.TurnResponse
	sess, err := s.store.Update(ctx, id, func(sess *session.Session) error {
		m := s.machine(*sess)
		resp = m.Reset()
		sess.State = m.State()
		sess.Data = m.Data()
		sess.Processed = false
		sess.Decision = nil
		return nil
	})
	if err != nil {
		return Turn{}, fmt.Errorf("service: reset: %w", err)
	}
	s.log.InfoContext(ctx, "session reset", "session_id", id)
	return Turn{Session: sess, Response: resp}, nil
}

// Process starts the session's one assessment run. The session is marked
// processed before the pipeline starts, so a concurrent or repeated call
// gets ErrAlreadyProcessed. The decision carried by the terminal success
// update is stored on the session.
func (s *Service) Process(ctx context.Context, id string) (iter.Seq[orchestrator.ProcessingUpdate], error) {
	sess, err := s.store.Update(ctx, id, func(sess *session.Session) error {
		switch {
		case sess.Processed:
			return ErrAlreadyProcessed
		case sess.State != conversation.StateReadyForProcessing:
			return ErrNotReady
		}
		sess.Processed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("service: process %s: %w", id, err)
	}
	s.log.InfoContext(ctx, "assessment started", "session_id", id)

	updates := s.pipeline.Process(ctx, sess.Data)
	return func(yield func(orchestrator.ProcessingUpdate) bool) {
		for u := range updates {
			if u.Status == orchestrator.UpdateCompleted && u.AssessmentData != nil {
				s.record(ctx, id, u)
			}
			if u.Status == orchestrator.UpdateError {
				s.log.WarnContext(ctx, "assessment failed", "session_id", id, "error", u.Message)
			}
			if !yield(u) {
				return
			}
		}
	}, nil
}

func (s *Service) record(ctx context.Context, id string, u orchestrator.ProcessingUpdate) {
	d := u.AssessmentData.Decision
	if d == nil {
		return
	}
	// The decision is kept even if the caller went away after it arrived.
	_, err := s.store.Update(context.WithoutCancel(ctx), id, func(sess *session.Session) error {
		dc := *d
		sess.Decision = &dc
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "store decision", "session_id", id, "error", err)
		return
	}
	s.log.InfoContext(ctx, "assessment complete",
		"session_id", id, "status", d.Status, "provenance", u.AssessmentData.Provenance)
}

// Get returns a session snapshot.
func (s *Service) Get(ctx context.Context, id string) (session.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return session.Session{}, fmt.Errorf("service: get: %w", err)
	}
	return sess, nil
}

// List returns every session, oldest first.
func (s *Service) List(ctx context.Context) ([]session.Session, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list: %w", err)
	}
	return list, nil
}

// Delete removes a session.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("service: delete: %w", err)
	}
	return nil
}

// Cleanup removes sessions idle for longer than maxAge.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := s.store.Cleanup(ctx, maxAge)
	if err != nil {
		return 0, fmt.Errorf("service: cleanup: %w", err)
	}
	if n > 0 {
		s.log.InfoContext(ctx, "expired sessions removed", "count", n)
	}
	return n, nil
}

// RunCleanup calls Cleanup every interval until ctx is done. Cleanup
// failures are logged and do not stop the loop.
func (s *Service) RunCleanup(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, maxAge); err != nil {
				s.log.ErrorContext(ctx, "session cleanup", "error", err)
			}
		}
	}
}
