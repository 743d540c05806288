package main

import (
	"context"

	"github.com/obra/lace-sub007/internal/modelsession"
	"github.com/obra/lace-sub007/internal/models"
)

// echoSession is a minimal modelsession.Session that never calls a
// tool: it replies with a fixed override string, or otherwise echoes
// the last user message's content back. It exists only so this
// module's demo CLI runs end to end without a concrete model provider;
// real deployments supply their own modelsession.Session.
type echoSession struct {
	def     modelsession.Definition
	reply   string
	hasFixed bool
}

func newEchoSession(def modelsession.Definition, fixedReply string) *echoSession {
	return &echoSession{def: def, reply: fixedReply, hasFixed: fixedReply != ""}
}

func (e *echoSession) Chat(ctx context.Context, messages []models.Message, opts modelsession.ChatOptions) (modelsession.ChatResult, error) {
	content := e.reply
	if !e.hasFixed {
		content = lastUserContent(messages)
	}
	usage := &models.Usage{InputTokens: estimateTokens(messages), OutputTokens: len(content) / 4, TotalTokens: estimateTokens(messages) + len(content)/4}
	return modelsession.ChatResult{Success: true, Content: content, Usage: usage}, nil
}

func (e *echoSession) CountTokens(ctx context.Context, messages []models.Message, opts modelsession.CountTokensOptions) (modelsession.CountTokensResult, error) {
	total := estimateTokens(messages)
	return modelsession.CountTokensResult{Success: true, InputTokens: total, TotalTokens: total}, nil
}

func (e *echoSession) Definition() modelsession.Definition { return e.def }

func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func estimateTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

var _ modelsession.Session = (*echoSession)(nil)
