package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"messaging-service/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis database numbers, see REDIS_DB.
const (
	RedisLimiter = 0
	RedisSocket  = 1
)

// RedisConnect opens one client per database number listed in REDIS_DB.
func RedisConnect(ctx context.Context) (map[int]*redis.Client, error) {
	clients := make(map[int]*redis.Client)
	for _, db := range strings.Split(config.Default("REDIS_DB", "0,1"), ",") {
		dbNumber, err := strconv.Atoi(strings.TrimSpace(db))
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB entry %q: %w", db, err)
		}

		client := redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf(
				"%s:%s",
				config.Config("REDIS_HOST"),
				config.Default("REDIS_PORT", "6379"),
			),
			Password: config.Config("REDIS_PASSWORD"),
			DB:       dbNumber,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis db %d: %w", dbNumber, err)
		}
		clients[dbNumber] = client
	}

	log.Info().Int("databases", len(clients)).Msg("connections opened to Redis")
	return clients, nil
}
