package config

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type config struct {
	telegramToken   string
	adminTelegramId int64

	databaseURL string

	redisAddr     string
	redisPassword string
	redisDB       int

	crmHostname string
	crmEmail    string
	crmAPIKey   string
	branchIds   []int64

	expressPayURL          string
	expressPayToken        string
	expressPaySignatureKey string
	defaultPayURL          string

	healthCheckPort int
}

var conf config

func TelegramToken() string {
	return conf.telegramToken
}

func GetAdminTelegramId() int64 {
	return conf.adminTelegramId
}

func DatabaseURL() string {
	return conf.databaseURL
}

func RedisAddr() string {
	return conf.redisAddr
}

func RedisPassword() string {
	return conf.redisPassword
}

func RedisDB() int {
	return conf.redisDB
}

func CRMHostname() string {
	return conf.crmHostname
}

func CRMEmail() string {
	return conf.crmEmail
}

func CRMAPIKey() string {
	return conf.crmAPIKey
}

// BranchIds возвращает список филиалов, по которым выполняется поиск
// клиентов и синхронизация.
func BranchIds() []int64 {
	return conf.branchIds
}

func ExpressPayURL() string {
	return conf.expressPayURL
}

func ExpressPayToken() string {
	return conf.expressPayToken
}

func ExpressPaySignatureKey() string {
	return conf.expressPaySignatureKey
}

func DefaultPayURL() string {
	return conf.defaultPayURL
}

func GetHealthCheckPort() int {
	return conf.healthCheckPort
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Panicf("env %q not set", key)
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Panicf("invalid int in %q: %v", key, err)
	}
	return i
}

func envStringDefault(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func InitConfig() {
	if os.Getenv("DISABLE_ENV_FILE") != "true" {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env loaded:", err)
		}
	}

	var err error
	conf.adminTelegramId, err = strconv.ParseInt(os.Getenv("ADMIN_TELEGRAM_ID"), 10, 64)
	if err != nil {
		panic("ADMIN_TELEGRAM_ID .env variable not set")
	}

	conf.telegramToken = mustEnv("TELEGRAM_TOKEN")
	conf.databaseURL = mustEnv("DATABASE_URL")

	conf.redisAddr = envStringDefault("REDIS_ADDR", "localhost:6379")
	conf.redisPassword = os.Getenv("REDIS_PASSWORD")
	conf.redisDB = envIntDefault("REDIS_DB", 0)

	conf.crmHostname = mustEnv("CRM_HOSTNAME")
	conf.crmEmail = mustEnv("CRM_EMAIL")
	conf.crmAPIKey = mustEnv("CRM_API_KEY")

	conf.branchIds = func() []int64 {
		v := envStringDefault("CRM_BRANCH_IDS", "1")
		parts := strings.Split(v, ",")
		ids := make([]int64, 0, len(parts))
		for _, p := range parts {
			id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				log.Panicf("invalid branch id in CRM_BRANCH_IDS: %v", err)
			}
			ids = append(ids, id)
		}
		slog.Info("Loaded CRM branches", "ids", ids)
		return ids
	}()

	conf.expressPayURL = mustEnv("EXPRESS_PAY_URL")
	conf.expressPayToken = mustEnv("EXPRESS_PAY_TOKEN")
	conf.expressPaySignatureKey = envStringDefault("EXPRESS_PAY_SIGNATURE_KEY", "Kiber")
	conf.defaultPayURL = mustEnv("DEFAULT_PAY_URL")

	conf.healthCheckPort = envIntDefault("HEALTH_CHECK_PORT", 8080)
}
