package adaptor

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zbridge-dev/zbridge/internal/config"
	"github.com/zbridge-dev/zbridge/internal/upstream"
)

const (
	systemPrefix = "[SYSTEM] "
	systemSuffix = "\n\n[USER PROMPT FOLLOWS]\n"
)

// MapModel resolves an inbound model name to the upstream model. Anthropic
// callers always get the configured default; OpenAI names pass through.
func MapModel(name, defaultModel string, dialect Dialect) string {
	if dialect == DialectAnthropic || strings.HasPrefix(name, "claude-") {
		if name != defaultModel {
			logrus.Debugf("mapping model %q to upstream default %q", name, defaultModel)
		}
		return defaultModel
	}
	return name
}

// ExpandVariables substitutes the supported {{...}} placeholders in message
// content. Unknown placeholders stay literal.
func ExpandVariables(s string, now time.Time, cfg *config.AppConfig) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	zone, _ := now.Zone()
	r := strings.NewReplacer(
		"{{DATE}}", now.Format("2006-01-02"),
		"{{TIME}}", now.Format("15:04:05"),
		"{{DAY}}", now.Weekday().String(),
		"{{TZ}}", zone,
		"{{USER_NAME}}", cfg.UserName,
		"{{USER_LOCATION}}", cfg.UserLocation,
		"{{USER_LANG}}", cfg.UserLang,
	)
	return r.Replace(s)
}

// CoerceSystemMessages folds system messages into the first user message:
// their concatenation is prefixed with the system marker and spliced in
// front of the user prompt. Runs before variable expansion.
func CoerceSystemMessages(msgs []upstream.Message) []upstream.Message {
	var systems []string
	rest := make([]upstream.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			systems = append(systems, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	if len(systems) == 0 {
		return msgs
	}

	header := systemPrefix + strings.Join(systems, "\n") + systemSuffix
	for i, m := range rest {
		if m.Role == "user" {
			rest[i].Content = header + m.Content
			return rest
		}
	}
	return append([]upstream.Message{{Role: "user", Content: header}}, rest...)
}

// buildUpstreamRequest assembles the common-form request around normalized
// messages. Transform order: system coercion, variable expansion, model
// mapping, tool translation (done by the dialect callers).
func buildUpstreamRequest(cfg *config.AppConfig, dialect Dialect, model string, msgs []upstream.Message, tools []interface{}) *upstream.Request {
	msgs = CoerceSystemMessages(msgs)
	now := time.Now()
	for i := range msgs {
		msgs[i].Content = ExpandVariables(msgs[i].Content, now, cfg)
	}

	upstreamModel := MapModel(model, cfg.ModelName, dialect)
	return &upstream.Request{
		Stream:   true,
		ChatID:   uuid.NewString(),
		ID:       uuid.NewString(),
		Model:    upstreamModel,
		Messages: msgs,
		Params:   map[string]interface{}{},
		Features: upstream.Features{
			EnableThinking: true,
		},
		ModelItem: map[string]interface{}{
			"id":       upstreamModel,
			"name":     upstreamModel,
			"owned_by": "z.ai",
		},
		Tools: tools,
	}
}

// PromptChars counts the characters the caller sent, for the usage estimate.
func PromptChars(msgs []upstream.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}
