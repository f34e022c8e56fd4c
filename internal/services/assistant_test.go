package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func chatRide(id uint, origin, dest, hhmm string, price float64, total, taken int) models.Ride {
	return models.Ride{
		Model:         gorm.Model{ID: id},
		DriverID:      99,
		Driver:        &models.User{FullName: "Jane Wanjiru", Email: "jane@uni.test", Phone: "+254700000000", LicensePlate: "KDA 123X"},
		Origin:        origin,
		Destination:   dest,
		DepartureDate: "2026-03-06",
		DepartureTime: hhmm,
		TotalSeats:    total,
		SeatsTaken:    taken,
		PricePerSeat:  price,
		Status:        models.RideStatusActive,
	}
}

func TestRideSummaryIsSanitized(t *testing.T) {
	r := chatRide(47, "Main Campus", "Mombasa", "14:30", 1200.75, 4, 1)
	assert.Equal(t, "Ride #47: Main Campus to Mombasa, 2026-03-06 at 2:30 PM, KSh 1200/seat, 3 seats available", RideSummary(r))

	r.DepartureTime = "00:05"
	assert.Contains(t, RideSummary(r), "at 12:05 AM")
	r.DepartureTime = "noon"
	assert.Contains(t, RideSummary(r), "at noon")

	prompt := SystemPrompt([]models.Ride{r}, PlatformStats{TotalUsers: 12, AveragePrice: 800}, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	assert.Contains(t, prompt, "TODAY'S DATE: Monday, March 02, 2026")
	assert.Contains(t, prompt, "Ride #47: Main Campus to Mombasa")
	for _, secret := range []string{"Jane", "jane@uni.test", "+254700000000", "KDA 123X"} {
		assert.NotContains(t, prompt, secret)
	}
}

func TestFallbackAndGreeting(t *testing.T) {
	assert.Contains(t, FallbackMessage(nil), "use the Search page")

	rides := []models.Ride{
		chatRide(1, "A", "Nakuru", "08:00", 400, 4, 0),
		chatRide(2, "A", "Kisumu", "09:00", 800, 4, 0),
		chatRide(3, "A", "Nakuru", "10:00", 450, 4, 0),
		chatRide(4, "A", "Thika", "11:00", 300, 4, 0),
		chatRide(5, "A", "Eldoret", "12:00", 900, 4, 0),
	}
	msg := FallbackMessage(rides)
	assert.Contains(t, msg, "5 rides are currently available to destinations including Nakuru, Kisumu, Thika.")
	assert.NotContains(t, msg, "Eldoret")

	assert.Contains(t, Greeting(rides), "Currently 5 rides available")
	assert.Equal(t, []string{"Search Nakuru rides", "Check weekend availability", "View pricing guide", "Platform help"}, Suggestions(rides))
	assert.Equal(t, []string{"How to post a ride", "Platform help"}, Suggestions(nil))
}

func TestValidateMessage(t *testing.T) {
	msg, err := ValidateMessage("  rides to Nakuru?  ")
	require.NoError(t, err)
	assert.Equal(t, "rides to Nakuru?", msg)

	_, err = ValidateMessage("   ")
	assert.ErrorIs(t, err, ErrEmptyChatMessage)
	_, err = ValidateMessage(strings.Repeat("a", MaxChatMessageLength+1))
	assert.ErrorIs(t, err, ErrChatMessageLength)
}

func TestAssistantDisabledFallsBack(t *testing.T) {
	a := NewAssistant(AssistantConfig{})
	assert.False(t, a.Enabled())

	reply, err := a.Reply(context.Background(), nil, PlatformStats{}, nil, "hello")
	assert.ErrorIs(t, err, ErrAssistantDisabled)
	assert.True(t, reply.Fallback)
	assert.Equal(t, FallbackMessage(nil), reply.Response)
}

func TestAssistantReply(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-3.5-turbo",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  View Ride #1 for details. "},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":40,"completion_tokens":6,"total_tokens":46}}`))
	}))
	defer srv.Close()

	a := NewAssistant(AssistantConfig{APIKey: "sk-test", MaxTokens: 200, BaseURL: srv.URL + "/v1"})
	history := make([]ChatTurn, 0, 14)
	for i := 0; i < 14; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, ChatTurn{Role: role, Content: "turn"})
	}
	history[13].Role = "system"

	rides := []models.Ride{chatRide(1, "Main Campus", "Nakuru", "08:00", 400, 4, 0)}
	reply, err := a.Reply(context.Background(), rides, PlatformStats{}, history, "cheapest ride?")
	require.NoError(t, err)
	assert.Equal(t, AssistantReply{Response: "View Ride #1 for details.", TokensUsed: 46}, reply)

	assert.Equal(t, openai.GPT3Dot5Turbo, got.Model)
	assert.Equal(t, 200, got.MaxTokens)
	// system prompt + last 10 turns + the new message
	require.Len(t, got.Messages, 12)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Ride #1: Main Campus to Nakuru")
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[10].Role, "client supplied roles other than assistant are sent as user")
	assert.Equal(t, "cheapest ride?", got.Messages[11].Content)
}

func TestAssistantAPIFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	a := NewAssistant(AssistantConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	rides := []models.Ride{chatRide(1, "Main Campus", "Nakuru", "08:00", 400, 4, 0)}
	reply, err := a.Reply(context.Background(), rides, PlatformStats{}, nil, "hi")
	require.Error(t, err)
	assert.True(t, reply.Fallback)
	assert.Contains(t, reply.Response, "1 rides are currently available to destinations including Nakuru")
}
