package turn

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Activity is one outbound message. Rendering an Action as a card or button
// is left to the channel.
type Activity struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Text   string  `json:"text"`
	Action *Action `json:"action,omitempty"`
}

type Action struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Response is everything a turn sends back to the conversation.
type Response struct {
	Activities []Activity `json:"activities"`
}

// MarshalJSON encodes a turn with nothing to say as an empty array.
func (r Response) MarshalJSON() ([]byte, error) {
	type response Response
	out := response(r)
	if out.Activities == nil {
		out.Activities = []Activity{}
	}
	return json.Marshal(out)
}

func (r *Response) Say(text string) {
	r.Activities = append(r.Activities, Activity{
		ID:   uuid.New().String(),
		Type: "message",
		Text: text,
	})
}

func (r *Response) SayWithAction(text, title, url string) {
	r.Activities = append(r.Activities, Activity{
		ID:     uuid.New().String(),
		Type:   "message",
		Text:   text,
		Action: &Action{Title: title, URL: url},
	})
}

func (r *Response) Append(other Response) {
	r.Activities = append(r.Activities, other.Activities...)
}

// Texts returns the text of every activity in order.
func (r Response) Texts() []string {
	texts := make([]string, 0, len(r.Activities))
	for _, a := range r.Activities {
		texts = append(texts, a.Text)
	}
	return texts
}
