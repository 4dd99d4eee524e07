// Package audit writes structured records of CLI invocations and of
// state-changing API calls. Credential values never reach these records.
package audit

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// secretEnvKeys are credentials. Audit records list which of them are set,
// never their values.
var secretEnvKeys = []string{
	"OPENAI_API_KEY",
	"AZURE_OPENAI_API_KEY",
	"ARK_API_KEY",
	"GOOGLE_API_KEY",
	"EMBEDDING_API_KEY",
	"QDRANT_API_KEY",
	"RFPAI_API_KEY",
	"LANGFUSE_PUBLIC_KEY",
	"LANGFUSE_SECRET_KEY",
}

// settingKeys are the non-secret env vars echoed in every command record.
var settingKeys = []string{
	"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL", "OPENAI_MODEL",
	"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "ARK_MODEL", "GEMINI_MODEL",
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
	"RFPAI_INDEX", "QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
	"RFPAI_DB", "RFPAI_CONCURRENCY", "RFPAI_GLOBAL_CONCURRENCY", "RFPAI_WORKERS",
	"LOG_LEVEL", "LOG_FORMAT",
}

// LogCommandStart records a CLI invocation: command, config source, the
// settings above and the names of credentials present in the environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	attrs := make([]slog.Attr, 0, len(settingKeys)+3)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, k := range settingKeys {
		attrs = append(attrs, slog.String(k, valOrUnset(os.Getenv(k))))
	}

	var present []string
	for _, k := range secretEnvKeys {
		if os.Getenv(k) != "" {
			present = append(present, k)
		}
	}
	set := "none"
	if len(present) > 0 {
		set = strings.Join(present, ",")
	}
	attrs = append(attrs, slog.String("credentials_set", set))

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if slices.Contains(secretEnvKeys, key) {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}

// Action names a state-changing API operation recorded by LogMutation.
type Action string

const (
	ActionDocumentCreate Action = "document.create"
	ActionDocumentDelete Action = "document.delete"
	ActionDocumentIndex  Action = "document.index"
	ActionTaskSubmit     Action = "task.submit"
	ActionAnswerEdit     Action = "answer.edit"
)

// LogMutation records a state-changing API call. subject identifies the
// affected record (document id, task id, answer id).
func LogMutation(ctx context.Context, log *slog.Logger, action Action, subject string, attrs ...slog.Attr) {
	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all, slog.String("action", string(action)), slog.String("subject", subject))
	all = append(all, attrs...)
	log.LogAttrs(ctx, slog.LevelInfo, "audit: mutation", all...)
}
