package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/tgrelay/internal/telegram"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20 // 1 MiB

// extractText turns an inbound body into the message text. A Content-Type
// starting with "application/json" selects the `{"message": string}` shape;
// anything else is taken as raw UTF-8 text. The returned text is byte-exact,
// never trimmed or escaped. Error messages are caller-facing and become the
// 400 response body.
func extractText(contentType string, body []byte) (string, error) {
	if strings.HasPrefix(contentType, "application/json") {
		var payload struct {
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("invalid JSON: %v", err)
		}
		if payload.Message == nil {
			return "", errors.New(`invalid JSON: missing field "message"`)
		}
		return *payload.Message, nil
	}

	if len(body) == 0 {
		return "", errors.New("empty body")
	}
	if !utf8.Valid(body) {
		return "", errors.New("invalid UTF-8 in request body")
	}
	return string(body), nil
}

// parseMode maps the Telegram-Parse-Mode header to a sendMessage tag.
// Unknown or absent values mean plain text.
func parseMode(header string) string {
	switch strings.ToLower(header) {
	case "markdown":
		return telegram.ParseModeMarkdownV2
	case "html":
		return telegram.ParseModeHTML
	default:
		return ""
	}
}
