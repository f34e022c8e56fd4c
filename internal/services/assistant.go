package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/sashabaranov/go-openai"
)

const (
	MaxChatMessageLength = 1000
	maxHistoryTurns      = 10
)

var (
	ErrAssistantDisabled = errors.New("AI assistant is not configured")
	ErrEmptyChatMessage  = errors.New("message is required")
	ErrChatMessageLength = fmt.Errorf("message exceeds %d characters", MaxChatMessageLength)
)

// ChatTurn is one earlier exchange sent back by the client.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PlatformStats are the aggregate numbers shown to the model. They carry no user data.
type PlatformStats struct {
	TotalUsers   int64
	AveragePrice float64
}

type AssistantReply struct {
	Response   string `json:"response"`
	TokensUsed int    `json:"tokensUsed"`
	Fallback   bool   `json:"fallback"`
}

type AssistantConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	// BaseURL overrides the OpenAI endpoint, e.g. for a compatible gateway.
	BaseURL string
}

// Assistant answers ride questions from sanitized ride summaries only. Driver names,
// phones, emails and plates are never put into a prompt.
type Assistant struct {
	client    *openai.Client
	model     string
	maxTokens int
	now       func() time.Time
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	a := &Assistant{model: cfg.Model, maxTokens: cfg.MaxTokens, now: time.Now}
	if a.model == "" {
		a.model = openai.GPT3Dot5Turbo
	}
	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		a.client = openai.NewClientWithConfig(oc)
	}
	return a
}

func (a *Assistant) Enabled() bool { return a != nil && a.client != nil }

// ValidateMessage trims msg and checks its length.
func ValidateMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	switch {
	case msg == "":
		return "", ErrEmptyChatMessage
	case len([]rune(msg)) > MaxChatMessageLength:
		return "", ErrChatMessageLength
	}
	return msg, nil
}

// Reply asks the model about rides. When the assistant is disabled or the call fails,
// the fallback text is returned together with the cause.
func (a *Assistant) Reply(ctx context.Context, rides []models.Ride, stats PlatformStats, history []ChatTurn, message string) (AssistantReply, error) {
	if !a.Enabled() {
		return AssistantReply{Response: FallbackMessage(rides), Fallback: true}, ErrAssistantDisabled
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            a.model,
		Messages:         a.messages(rides, stats, history, message),
		MaxTokens:        a.maxTokens,
		Temperature:      0.3,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
	})
	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("empty completion")
	}
	if err != nil {
		return AssistantReply{Response: FallbackMessage(rides), Fallback: true}, fmt.Errorf("chat completion: %w", err)
	}
	return AssistantReply{
		Response:   strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func (a *Assistant) messages(rides []models.Ride, stats PlatformStats, history []ChatTurn, message string) []openai.ChatCompletionMessage {
	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt(rides, stats, a.now()),
	}}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
}

// RideSummary is the only representation of a ride the model sees.
func RideSummary(r models.Ride) string {
	return fmt.Sprintf("Ride #%d: %s to %s, %s at %s, KSh %d/seat, %d seats available",
		r.ID, r.Origin, r.Destination, r.DepartureDate, clock12(r.DepartureTime),
		int(r.PricePerSeat), r.AvailableSeats())
}

// clock12 renders HH:MM as h:mm AM/PM, leaving malformed input untouched.
func clock12(hhmm string) string {
	t, err := time.Parse(models.TimeLayout, hhmm)
	if err != nil {
		return hhmm
	}
	return t.Format("3:04 PM")
}

const promptRules = `STRICT OPERATIONAL RULES:
1. Never use emojis.
2. Only recommend rides from the AVAILABLE RIDES list. Never invent rides.
3. Always cite the ride as "Ride #47".
4. If data is not in the list, do not guess.
5. If no rides match, say so, suggest nearby destinations or other dates that do have rides, and mention that drivers can post their own ride.
6. Keep responses under 100 words unless listing several rides.
7. When listing rides use: Ride #[ID]: [Origin] to [Destination], [Date] at [Time], KSh [Price]/seat, [X] seats available
8. You have no driver names or contact details. Never claim otherwise.
9. Direct users to view Ride #[ID] for full details and booking.
10. For anything unrelated to ride-sharing answer: "I can only assist with finding rides and platform-related questions. What ride are you looking for?"
11. Never suggest external transport services.`

// SystemPrompt assembles the model instructions from sanitized ride data.
func SystemPrompt(rides []models.Ride, stats PlatformStats, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are the AI Assistant for Campus Ride-Share, a university student carpooling platform. ")
	b.WriteString("You help students find rides, check availability and understand how the platform works.\n\n")
	fmt.Fprintf(&b, "TODAY'S DATE: %s\n\n", now.Format("Monday, January 02, 2006"))
	fmt.Fprintf(&b, "PLATFORM STATS:\n- Active rides: %d\n- Total users: %d\n- Average price: KSh %d\n\n",
		len(rides), stats.TotalUsers, int(stats.AveragePrice))
	fmt.Fprintf(&b, "ROUTES WITH AVAILABLE RIDES:\nOrigins: %s\nDestinations: %s\n\n",
		listOrNone(distinct(rides, func(r models.Ride) string { return r.Origin }), 8),
		listOrNone(distinct(rides, func(r models.Ride) string { return r.Destination }), 8))

	b.WriteString("AVAILABLE RIDES:\n")
	if len(rides) == 0 {
		b.WriteString("No rides currently available.\n")
	}
	for _, r := range rides {
		b.WriteString(RideSummary(r))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(promptRules)
	return b.String()
}

// FallbackMessage is shown when the model cannot be reached.
func FallbackMessage(rides []models.Ride) string {
	if len(rides) == 0 {
		return "Experiencing technical difficulties. Please use the Search page to browse available rides, or try again in a moment."
	}
	dests := distinct(rides, func(r models.Ride) string { return r.Destination })
	if len(dests) > 3 {
		dests = dests[:3]
	}
	return fmt.Sprintf("Experiencing technical difficulties. %d rides are currently available to destinations including %s. Please use the Search page to find and book rides.",
		len(rides), strings.Join(dests, ", "))
}

// Suggestions returns up to four quick prompts, led by the most offered destination.
func Suggestions(rides []models.Ride) []string {
	if len(rides) == 0 {
		return []string{"How to post a ride", "Platform help"}
	}
	counts := map[string]int{}
	for _, r := range rides {
		counts[r.Destination]++
	}
	dests := distinct(rides, func(r models.Ride) string { return r.Destination })
	sort.SliceStable(dests, func(i, j int) bool { return counts[dests[i]] > counts[dests[j]] })
	return []string{
		"Search " + dests[0] + " rides",
		"Check weekend availability",
		"View pricing guide",
		"Platform help",
	}
}

func Greeting(rides []models.Ride) string {
	const base = "I can help you find rides, check availability, or answer questions about the platform."
	if len(rides) == 0 {
		return base + " What would you like to know?"
	}
	dests := distinct(rides, func(r models.Ride) string { return r.Destination })
	if len(dests) > 3 {
		dests = dests[:3]
	}
	return base + " Currently " + strconv.Itoa(len(rides)) + " rides available to destinations including " +
		strings.Join(dests, ", ") + ". What would you like to know?"
}

// distinct keeps first-seen order.
func distinct(rides []models.Ride, key func(models.Ride) string) []string {
	seen := make(map[string]bool, len(rides))
	var out []string
	for _, r := range rides {
		k := key(r)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func listOrNone(items []string, limit int) string {
	if len(items) == 0 {
		return "None"
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return strings.Join(items, ", ")
}
