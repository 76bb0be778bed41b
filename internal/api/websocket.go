package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"backtest-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope wraps a bus payload with its topic so one socket can multiplex
// several streams.
type envelope struct {
	Topic   events.Topic `json:"topic"`
	Payload any          `json:"payload"`
}

var allTopics = []events.Topic{
	events.TopicEquityPoint,
	events.TopicFill,
	events.TopicRiskAlert,
	events.TopicRunFinished,
}

// websocket streams run progress. Clients may narrow the streams with
// ?topics=fill,risk_alert; the default is everything.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	topics := selectTopics(c.Query("topics"))
	merged := make(chan envelope, 256)
	done := make(chan struct{})

	for _, topic := range topics {
		stream, unsub := s.Bus.Subscribe(topic, 100)
		defer unsub()
		go func(topic events.Topic, stream <-chan any) {
			for msg := range stream {
				select {
				case merged <- envelope{Topic: topic, Payload: msg}:
				case <-done:
					return
				}
			}
		}(topic, stream)
	}

	// Detect client disconnect; inbound frames are otherwise ignored.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case env := <-merged:
			if err := conn.WriteJSON(env); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}

func selectTopics(query string) []events.Topic {
	if query == "" {
		return allTopics
	}
	var topics []events.Topic
	for _, name := range strings.Split(query, ",") {
		t := events.Topic(strings.TrimSpace(name))
		for _, known := range allTopics {
			if t == known {
				topics = append(topics, t)
				break
			}
		}
	}
	if len(topics) == 0 {
		return allTopics
	}
	return topics
}
