package main

import (
	"log"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/ws"
)

// registerHubCallbacks logs session presence transitions. Callbacks run in
// their own goroutine, outside the Hub's lock.
func registerHubCallbacks(hub *ws.Hub) {
	hub.OnTopicChange(func(topic string, userIDs []string) {
		kind := "lesson"
		if models.IsGroupTopic(topic) {
			kind = "group"
		}
		if len(userIDs) == 0 {
			log.Printf("[presence] %s session %s is empty", kind, topic)
			return
		}
		log.Printf("[presence] %s session %s has %d participant(s)", kind, topic, len(userIDs))
	})
}
