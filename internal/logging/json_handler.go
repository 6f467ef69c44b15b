package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

const redacted = "[redacted]"

// secretKeys are attribute keys whose values never reach a log sink. Channel
// credentials from the static config are the usual offenders.
var secretKeys = map[string]struct{}{
	"password":          {},
	"smtp_password":     {},
	"auth_token":        {},
	"twilio_auth_token": {},
	"ntfy_token":        {},
	"mqtt_password":     {},
}

func isSecret(key string) bool {
	_, ok := secretKeys[strings.ToLower(key)]
	return ok
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch {
			case attr.Key == slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339Nano))
				}
			case attr.Key == slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case attr.Key == slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			case isSecret(attr.Key):
				attr.Value = slog.StringValue(redacted)
			}
			return attr
		},
	})
}
