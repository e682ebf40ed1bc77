package channel

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/yuki/internal/bus"
	"github.com/stellarlinkco/yuki/internal/chunk"
	"github.com/stellarlinkco/yuki/internal/config"
)

const TelegramChannelName = "telegram"

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

func (w *tgBotWrapper) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return w.bot.GetFile(config)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	httpClient *http.Client
	cancel     context.CancelFunc
	botFactory BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel(TelegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		httpClient:  http.DefaultClient,
		botFactory:  factory,
	}, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}
	t.httpClient = client

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	media := mediaOf(msg)
	if msg.Text == "" && media.Kind == bus.MediaNone {
		return
	}

	kind := bus.ChatDirect
	if !msg.Chat.IsPrivate() {
		kind = bus.ChatGroup
	}

	var replyTo string
	if r := msg.ReplyToMessage; r != nil {
		replyTo = r.Text
		if replyTo == "" {
			replyTo = r.Caption
		}
	}

	t.bus.Inbound <- bus.InboundMessage{
		Channel:     TelegramChannelName,
		SenderID:    senderID,
		SenderName:  displayName(msg.From),
		ChatID:      strconv.FormatInt(msg.Chat.ID, 10),
		ChatKind:    kind,
		Content:     msg.Text,
		Caption:     msg.Caption,
		Media:       media,
		ReplyToText: replyTo,
		Timestamp:   time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"message_id": msg.MessageID,
		},
	}
}

// mediaOf picks the payload the dispatcher can act on. Bytes are fetched
// later through DownloadFile.
func mediaOf(msg *tgbotapi.Message) bus.Media {
	switch {
	case msg.Voice != nil:
		return bus.Media{Kind: bus.MediaVoice, FileID: msg.Voice.FileID, MimeType: msg.Voice.MimeType}
	case msg.Audio != nil:
		return bus.Media{Kind: bus.MediaVoice, FileID: msg.Audio.FileID, MimeType: msg.Audio.MimeType}
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return bus.Media{Kind: bus.MediaPhoto, FileID: photo.FileID, MimeType: "image/jpeg"}
	case msg.Document != nil:
		mime := msg.Document.MimeType
		switch {
		case strings.HasPrefix(mime, "image/"):
			return bus.Media{Kind: bus.MediaPhoto, FileID: msg.Document.FileID, MimeType: mime}
		case strings.HasPrefix(mime, "audio/"):
			return bus.Media{Kind: bus.MediaVoice, FileID: msg.Document.FileID, MimeType: mime}
		}
		return bus.Media{Kind: bus.MediaOther, FileID: msg.Document.FileID, MimeType: mime}
	case msg.Sticker != nil, msg.Video != nil, msg.VideoNote != nil, msg.Animation != nil:
		return bus.Media{Kind: bus.MediaOther}
	}
	return bus.Media{}
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// DownloadFile fetches a file previously referenced by an inbound message.
func (t *TelegramChannel) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if t.bot == nil {
		return nil, fmt.Errorf("telegram bot not initialized")
	}

	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get telegram file: %w", err)
	}

	client := t.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(t.token), nil)
	if err != nil {
		return nil, fmt.Errorf("build telegram file request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download telegram file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read telegram file body: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("telegram file is empty")
	}

	return data, nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// Send delivers msg split at paragraph boundaries. Each chunk is tried as
// HTML first and resent as plain text if Telegram rejects the markup.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}
	replyTo, _ := strconv.Atoi(msg.ReplyTo)

	for i, part := range chunk.Split(msg.Content, chunk.Limit) {
		tgMsg := tgbotapi.NewMessage(chatID, toTelegramHTML(part))
		tgMsg.ParseMode = tgbotapi.ModeHTML
		if i == 0 && replyTo > 0 {
			tgMsg.ReplyToMessageID = replyTo
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			tgMsg.ParseMode = ""
			tgMsg.Text = part
			if _, err2 := t.bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
		}
	}
	return nil
}

// toTelegramHTML converts basic markdown to Telegram HTML.
func toTelegramHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	s = replacePairs(s, "```", "<pre>", "</pre>", stripLangTag)
	s = replacePairs(s, "`", "<code>", "</code>", nil)
	s = replacePairs(s, "**", "<b>", "</b>", nil)
	s = replacePairs(s, "*", "<i>", "</i>", nil)
	return s
}

// replacePairs wraps every closed marker pair in open/close tags.
func replacePairs(s, marker, openTag, closeTag string, inner func(string) string) string {
	for {
		start := strings.Index(s, marker)
		if start == -1 {
			return s
		}
		end := strings.Index(s[start+len(marker):], marker)
		if end == -1 {
			return s
		}
		end += start + len(marker)
		body := s[start+len(marker) : end]
		if inner != nil {
			body = inner(body)
		}
		s = s[:start] + openTag + body + closeTag + s[end+len(marker):]
	}
}

func stripLangTag(code string) string {
	if nl := strings.Index(code, "\n"); nl >= 0 {
		first := strings.TrimSpace(code[:nl])
		if first != "" && !strings.Contains(first, " ") {
			return code[nl+1:]
		}
	}
	return code
}
