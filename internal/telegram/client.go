package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// API is the slice of the Bot API the bot service depends on. Every method
// returns errors already classified into the kinds of errors.go.
type API interface {
	SendMessage(cfg tgbotapi.MessageConfig) (tgbotapi.Message, error)
	CopyMessage(cfg tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error)
	ForwardMessage(cfg tgbotapi.ForwardConfig) (tgbotapi.Message, error)
	EditReplyMarkup(chatID int64, messageID int) error
	AnswerCallback(callbackID string) error
	GetChat(chatID int64) (tgbotapi.Chat, error)
	ApproveJoinRequest(chatID, userID int64) error
	DeclineJoinRequest(chatID, userID int64) error
	BanMember(chatID, userID int64) error
}

type Client struct {
	botAPI *tgbotapi.BotAPI
}

func NewClient(token string) (*Client, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram.NewClient: %w", err)
	}

	return &Client{botAPI: botAPI}, nil
}

func (c *Client) Self() tgbotapi.User {
	return c.botAPI.Self
}

// Updates opens the long-poll update stream. Stop closes it, which ends the
// bot service's update loop.
func (c *Client) Updates(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	u.AllowedUpdates = []string{"message", "chat_join_request", "callback_query"}

	return c.botAPI.GetUpdatesChan(u)
}

func (c *Client) Stop() {
	c.botAPI.StopReceivingUpdates()
}

func (c *Client) SendMessage(cfg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	msg, err := c.botAPI.Send(cfg)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("Client.SendMessage: %w", classify(err))
	}

	return msg, nil
}

func (c *Client) CopyMessage(cfg tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error) {
	id, err := c.botAPI.CopyMessage(cfg)
	if err != nil {
		return tgbotapi.MessageID{}, fmt.Errorf("Client.CopyMessage: %w", classify(err))
	}

	return id, nil
}

func (c *Client) ForwardMessage(cfg tgbotapi.ForwardConfig) (tgbotapi.Message, error) {
	msg, err := c.botAPI.Send(cfg)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("Client.ForwardMessage: %w", classify(err))
	}

	return msg, nil
}

// EditReplyMarkup strips the inline keyboard from a message. Sending the
// edit without a replacement markup clears it.
func (c *Client) EditReplyMarkup(chatID int64, messageID int) error {
	cfg := tgbotapi.EditMessageReplyMarkupConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:    chatID,
			MessageID: messageID,
		},
	}

	if _, err := c.botAPI.Request(cfg); err != nil {
		return fmt.Errorf("Client.EditReplyMarkup: %w", classify(err))
	}

	return nil
}

func (c *Client) AnswerCallback(callbackID string) error {
	if _, err := c.botAPI.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("Client.AnswerCallback: %w", classify(err))
	}

	return nil
}

func (c *Client) GetChat(chatID int64) (tgbotapi.Chat, error) {
	chat, err := c.botAPI.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return tgbotapi.Chat{}, fmt.Errorf("Client.GetChat: %w", classify(err))
	}

	return chat, nil
}

func (c *Client) ApproveJoinRequest(chatID, userID int64) error {
	cfg := tgbotapi.ApproveChatJoinRequestConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userID,
	}

	if _, err := c.botAPI.Request(cfg); err != nil {
		return fmt.Errorf("Client.ApproveJoinRequest: %w", classify(err))
	}

	return nil
}

func (c *Client) DeclineJoinRequest(chatID, userID int64) error {
	cfg := tgbotapi.DeclineChatJoinRequest{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userID,
	}

	if _, err := c.botAPI.Request(cfg); err != nil {
		return fmt.Errorf("Client.DeclineJoinRequest: %w", classify(err))
	}

	return nil
}

func (c *Client) BanMember(chatID, userID int64) error {
	cfg := tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: chatID,
			UserID: userID,
		},
	}

	if _, err := c.botAPI.Request(cfg); err != nil {
		return fmt.Errorf("Client.BanMember: %w", classify(err))
	}

	return nil
}
