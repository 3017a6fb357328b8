package main

import (
	"faceattend/internal/config"
	"faceattend/internal/feed"
	"faceattend/internal/store"
)

// sharedFeed reports whether events leave the process. The worker then
// maintains the feed in redis and the api serves it from there.
func sharedFeed(cfg config.App) bool {
	return cfg.QueueBackend != "memory"
}

// buildFeed picks the recent-activity feed the api serves. consumeHere is
// true when the api must drain the queue into the feed itself.
func buildFeed(cfg config.App, rdb *store.Redis) (f feed.Feed, consumeHere bool) {
	if sharedFeed(cfg) && rdb != nil {
		return feed.NewRedis(rdb.Client, "", cfg.FeedSize), false
	}
	return feed.NewMemory(cfg.FeedSize), true
}
