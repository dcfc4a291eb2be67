package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreName             string
	CartTTLHours          int
	AuthSecret            string
	AccessTokenTTLMinutes int
	OrderServiceURL       string
	OrderServiceToken     string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cartTTL, err := strconv.Atoi(getEnv("CART_TTL_HOURS", "72"))
	if err != nil || cartTTL < 1 {
		cartTTL = 72
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreName:             getEnv("STORE_NAME", "Punto Venta"),
		CartTTLHours:          cartTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		OrderServiceURL:       strings.TrimSpace(os.Getenv("ORDER_SERVICE_URL")),
		OrderServiceToken:     strings.TrimSpace(os.Getenv("ORDER_SERVICE_TOKEN")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
