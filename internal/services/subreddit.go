package services

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/bot"
)

// SubredditFeed abstracts the original's praw-backed polling: Poll returns
// newly seen posts for subreddit since the previous call, formatted ready
// to post. No real Reddit client exists anywhere in the retrieval pack, so
// callers supply their own implementation.
type SubredditFeed interface {
	Poll(subreddit string) ([]string, error)
}

const defaultSubredditPollInterval = 30 * time.Second

// Subreddit periodically polls each named subreddit via feed and posts new
// submissions (at most three per poll; any further posts from that poll are
// not posted), resetting (by forcing a supervised restart of the service)
// every hoursPerThread hours — reproducing the "thread per subreddit,
// re-poll every 30s, reset every N hours" structure of the original.
func Subreddit(feed SubredditFeed, subreddits []string, hoursPerThread int) bot.ServiceFactory {
	if hoursPerThread <= 0 {
		hoursPerThread = 24
	}
	return func(logger *zap.Logger, host bot.Host, _ map[string]any) (*agent.Agent, error) {
		scheduler := host.Scheduler()
		if scheduler == nil {
			return nil, fmt.Errorf("subreddit: service requires a scheduler")
		}

		a := agent.New(logger)

		for _, sub := range subreddits {
			sub := sub
			_, err := scheduler.NewJob(
				gocron.DurationJob(defaultSubredditPollInterval),
				gocron.NewTask(func() { pollSubreddit(logger, host, feed, sub) }),
			)
			if err != nil {
				return nil, fmt.Errorf("subreddit: schedule poll for %s: %w", sub, err)
			}
		}

		a.SpawnLinkedTask(logger.Named("reset"), func() error {
			time.Sleep(time.Duration(hoursPerThread) * time.Hour)
			return fmt.Errorf("subreddit: periodic reset after %dh", hoursPerThread)
		}, false)

		return a, nil
	}
}

func pollSubreddit(logger *zap.Logger, host bot.Host, feed SubredditFeed, subreddit string) {
	if !host.Agent().Alive() {
		return
	}
	posts, err := feed.Poll(subreddit)
	if err != nil {
		logger.Warn("subreddit poll failed", zap.String("subreddit", subreddit), zap.Error(err))
		return
	}
	for i, post := range posts {
		if i >= 3 {
			break
		}
		host.SendContent(fmt.Sprintf("[/r/%s] %s", subreddit, post), "")
	}
}
