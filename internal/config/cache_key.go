package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AnswerKeyKey returns the cache key for a registered answer key payload
func (r *CacheKeyStruct) AnswerKeyKey(keyID string) string {
	return fmt.Sprintf("answer_key:%s:payload", keyID)
}

// TemplateKey returns the cache key for a registered template payload
func (r *CacheKeyStruct) TemplateKey(templateID string) string {
	return fmt.Sprintf("template:%s:payload", templateID)
}

// SessionProgressKey returns the cache key for a session's progress snapshot
func (r *CacheKeyStruct) SessionProgressKey(sessionID string) string {
	return fmt.Sprintf("session:%s:progress", sessionID)
}

// SessionProgressChannel returns the Redis PubSub channel name for a
// session's live progress stream
func (r *CacheKeyStruct) SessionProgressChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:progress_stream", sessionID)
}

var CacheKey = NewCacheKeyStruct()
