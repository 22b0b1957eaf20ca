package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/store"
	"github.com/ponderer/ponderer/internal/tools"
)

const engagedRetries = 3

// runEngaged processes pending operator messages end to end. Each turn
// flips processed=true atomically with the reply insertion, so a crash
// mid-path re-runs the turn instead of losing it.
func (s *Scheduler) runEngaged(ctx context.Context) {
	pending, err := s.deps.Store.UnprocessedUserMessages()
	if err != nil {
		s.log.Error("query pending messages", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	s.deps.Sampler.RecordInteraction()

	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.processTurn(ctx, &pending[i]); err != nil {
			s.log.Warn("engaged turn failed", zap.String("message", pending[i].ID), zap.Error(err))
			s.publish(agent.NewEvent(agent.EventError, map[string]any{
				"description": "chat turn failed: " + err.Error(),
			}))
		}
	}
}

func (s *Scheduler) processTurn(ctx context.Context, msg *store.ChatMessage) error {
	systemPrompt, err := s.systemPrompt()
	if err != nil {
		return err
	}
	history, err := s.turnHistory(msg)
	if err != nil {
		return err
	}

	replyID := store.NewID()
	onToken := func(delta string) {
		s.publish(agent.NewEvent(agent.EventChatStreaming, map[string]any{
			"conversation_id": msg.ConversationID,
			"message_id":      replyID,
			"content":         delta,
			"done":            false,
		}))
	}

	var res *tools.Result
	for attempt := 0; ; attempt++ {
		res, err = s.deps.Loop.RunStream(ctx, tools.ProfilePrivateChat, systemPrompt, history, msg.Content, onToken)
		if err == nil {
			break
		}
		if attempt+1 >= engagedRetries || !errors.Is(err, errors.ErrTransport) {
			return err
		}
		backoff := time.Duration(1<<attempt) * time.Second
		s.log.Debug("engaged retry", zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	reply := &store.ChatMessage{
		ID:             replyID,
		ConversationID: msg.ConversationID,
		Role:           "assistant",
		Content:        res.Response,
		CreatedAt:      s.now().UTC(),
	}
	promptPayload := fmt.Sprintf("SYSTEM:\n%s\n\nUSER:\n%s", systemPrompt, msg.Content)
	if err := s.deps.Store.CompleteTurn(msg.ID, reply, promptPayload); err != nil {
		return err
	}

	s.publish(agent.NewEvent(agent.EventChatStreaming, map[string]any{
		"conversation_id": msg.ConversationID,
		"message_id":      reply.ID,
		"content":         res.Response,
		"done":            true,
	}))
	return nil
}

// turnHistory renders the conversation so far, excluding the message
// being answered.
func (s *Scheduler) turnHistory(msg *store.ChatMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	msgs, err := s.deps.Store.MessagesForConversation(msg.ConversationID)
	if err != nil {
		return nil, err
	}
	var history []openai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		if m.ID == msg.ID {
			continue
		}
		switch m.Role {
		case "user":
			history = append(history, openai.UserMessage(m.Content))
		case "assistant":
			history = append(history, openai.AssistantMessage(m.Content))
		}
	}
	return history, nil
}

// systemPrompt prefers the evolving self-model prompt, then the
// character card, then a plain default.
func (s *Scheduler) systemPrompt() (string, error) {
	if prompt, ok, err := s.deps.Store.GetState(store.StateCurrentSystemPrompt); err != nil {
		return "", err
	} else if ok && prompt != "" {
		return prompt, nil
	}
	card, err := s.deps.Store.GetCharacterCard()
	if err != nil {
		return "", err
	}
	if card != nil {
		return fmt.Sprintf("You are %s, a quiet household companion for %s.\n%s",
			card.Name, s.deps.Config.Username, card.Card), nil
	}
	return fmt.Sprintf("You are a quiet, thoughtful household companion for %s.", s.deps.Config.Username), nil
}

// runSkillCycle drains queued external events and reacts to them under
// the skill-events profile.
func (s *Scheduler) runSkillCycle(ctx context.Context) {
	pending := s.drainSkillEvents()
	for _, ev := range pending {
		if ctx.Err() != nil {
			return
		}
		systemPrompt, err := s.systemPrompt()
		if err != nil {
			s.log.Warn("skill cycle prompt", zap.Error(err))
			return
		}
		if _, err := s.deps.Loop.Run(ctx, tools.ProfileSkillEvents, systemPrompt, nil,
			"An external event arrived: "+ev+"\nReact if useful, otherwise answer briefly."); err != nil {
			s.log.Warn("skill event failed", zap.String("event", ev), zap.Error(err))
		}
	}
}
