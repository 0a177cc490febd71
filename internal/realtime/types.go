package realtime

import (
	"encoding/json"
	"fmt"
)

// Wire event names exchanged over the transport session.
const (
	eventAuthenticate      = "authenticate"
	eventAuthenticated     = "authenticated"
	eventAuthError         = "auth_error"
	eventSubscribe         = "subscribe"
	eventUnsubscribe       = "unsubscribe"
	eventSubscribed        = "subscribed"
	eventUnsubscribed      = "unsubscribed"
	eventSubscriptionError = "subscription_error"
	eventPing              = "ping"
	eventPong              = "pong"
)

// Frame is the envelope for every message on the wire: an event name
// plus an event-specific JSON payload.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// newFrame marshals payload and wraps it in a Frame.
func newFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshalling %s payload: %w", event, err)
	}

	return Frame{Event: event, Payload: data}, nil
}

// authPayload is the identity payload sent immediately after connect.
type authPayload struct {
	Identity     string `json:"identity"`
	Reconnecting bool   `json:"reconnecting"`
}

// authResult is the server's response to an authenticate frame.
type authResult struct {
	Reason string `json:"reason,omitempty"`
}

// subscribePayload is the outbound subscribe request body.
type subscribePayload struct {
	TopicType TopicType `json:"topicType"`
	Target    string    `json:"target"`
	Filters   *Filters  `json:"filters,omitempty"`
}

// unsubscribePayload is the outbound unsubscribe request body.
type unsubscribePayload struct {
	SubscriptionID string `json:"subscriptionId"`
}

// subscriptionResult is the payload of subscribed, unsubscribed and
// subscription_error frames.
type subscriptionResult struct {
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	TopicType      TopicType `json:"topicType,omitempty"`
	Target         string    `json:"target,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}
