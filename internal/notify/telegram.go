package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/release"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("tagwatch/notify")

const (
	report_telegram_send = "telegram.send"
)

type TelegramOptions struct {
	BotToken string
	ChatId   string
	// ApiUrl defaults to https://api.telegram.org.
	ApiUrl string
	// MaxAttempts is how many times a message is sent before giving up.
	MaxAttempts int
	// Backoff is multiplied by the attempt number to get the wait before the next attempt.
	Backoff time.Duration
	// SendInterval is the minimum time between two messages.
	SendInterval         time.Duration
	MaxDescriptionLength int
	Timeout              time.Duration
}

// Telegram sends releases to a chat through the telegram bot api.
type Telegram struct {
	http    *resty.Client
	opts    TelegramOptions
	limiter *rate.Limiter
	tel     telemetry.API
}

func NewTelegram(opts TelegramOptions, tel telemetry.API) Telegram {
	assert.NotNil(tel, "tel")
	assert.NotEmptyStr(opts.BotToken, "bot token")
	assert.NotEmptyStr(opts.ChatId, "chat id")

	if opts.ApiUrl == "" {
		opts.ApiUrl = "https://api.telegram.org"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	tel = telemetry.NewScopedAPI("telegram", tel)

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.ApiUrl, "/"))
	client.SetTimeout(opts.Timeout)
	telemetry.InstrumentResty(client, tel)

	limit := rate.Inf
	if opts.SendInterval > 0 {
		limit = rate.Every(opts.SendInterval)
	}

	return Telegram{
		http:    client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		tel:     tel,
	}
}

type sendMessageRequest struct {
	ChatId                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	Ok          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// sendOnce returns the wait before the message may be sent again when the
// failure is retryable, and a PermanentError otherwise.
func (t Telegram) sendOnce(ctx context.Context, msg sendMessageRequest) (time.Duration, error) {
	var result apiResponse
	res, err := t.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.opts.BotToken))
	if err != nil {
		return 0, err
	}

	status := res.StatusCode()
	switch {
	case status == http.StatusOK && result.Ok:
		return 0, nil
	case status == http.StatusTooManyRequests:
		wait := time.Duration(result.Parameters.RetryAfter) * time.Second
		return wait, fmt.Errorf("rate limited: %s", result.Description)
	case status >= 500:
		return 0, fmt.Errorf("server error: %s %s", res.Status(), result.Description)
	case status >= 400:
		return 0, PermanentError{Err: fmt.Errorf("rejected: %s %s", res.Status(), result.Description)}
	default:
		return 0, fmt.Errorf("unexpected response: %s %s", res.Status(), result.Description)
	}
}

func (t Telegram) send(ctx context.Context, msg sendMessageRequest) error {
	ctx, span := tracer.Start(ctx, "Telegram.send")
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		err := t.limiter.Wait(ctx)
		if err != nil {
			return err
		}

		retryAfter, err := t.sendOnce(ctx, msg)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return nil
		}
		lastErr = err
		if IsPermanent(err) {
			break
		}
		t.tel.ReportWarning(report_telegram_send, fmt.Sprintf("attempt %d/%d", attempt, t.opts.MaxAttempts), err)
		if attempt == t.opts.MaxAttempts {
			break
		}

		wait := t.opts.Backoff * time.Duration(attempt)
		if retryAfter > wait {
			wait = retryAfter
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "failed to send message")
	return lastErr
}

func (t Telegram) Deliver(ctx context.Context, metadata release.Metadata) error {
	return t.send(ctx, sendMessageRequest{
		ChatId:    t.opts.ChatId,
		Text:      FormatReleaseHtml(metadata, t.opts.MaxDescriptionLength),
		ParseMode: "HTML",
	})
}

func (t Telegram) Announce(ctx context.Context, text string) error {
	return t.send(ctx, sendMessageRequest{
		ChatId:                t.opts.ChatId,
		Text:                  text,
		DisableWebPagePreview: true,
	})
}
