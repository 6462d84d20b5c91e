package upstream

import (
	"context"
	"time"

	"github.com/ent0n29/voicerelay/internal/protocol"
)

var mockMeetingAnswer = []string{
	"Based on our records, ",
	"here are the details ",
	"of the meeting on September 10th: ",
	"\n\n",
	"**Meeting Summary:**\n",
	"- Date: September 10, 2024\n",
	"- Time: 2:00 PM - 3:30 PM EST\n",
	"- Attendees: Sarah Chen (Product Manager), ",
	"John Smith (Engineering Lead), ",
	"Maria Garcia (Design Lead), ",
	"and David Kim (QA Lead)\n",
	"\n**Key Discussion Points:**\n",
	"1. Q4 product roadmap review\n",
	"2. New authentication feature specifications\n",
	"3. Mobile app performance improvements\n",
	"4. Customer feedback analysis from beta testing\n",
	"\n**Action Items:**\n",
	"- Sarah to finalize feature requirements by 9/15\n",
	"- John to provide technical feasibility assessment\n",
	"- Maria to create UI mockups for new features\n",
	"- David to prepare test plan for upcoming sprint\n",
	"\n**Next Meeting:** September 17th at 2:00 PM",
}

// MockClient streams a canned answer when no upstream is available.
type MockClient struct {
	delay  time.Duration
	tokens []string
}

func NewMockClient(delay time.Duration) *MockClient {
	return &MockClient{delay: delay, tokens: mockMeetingAnswer}
}

func (m *MockClient) Stream(ctx context.Context, _ protocol.ChatRequest, _ Credentials, onEvent protocol.EventHandler) error {
	for i, tok := range m.tokens {
		if i > 0 && m.delay > 0 {
			timer := time.NewTimer(m.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onEvent(protocol.TextEvent(tok)); err != nil {
			return err
		}
	}
	return onEvent(protocol.Event{Kind: protocol.KindFinish, Prefix: 'd', Raw: `{"finishReason":"stop"}`})
}
