package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Draggon233/gift-song/internal/birthday"
	"github.com/Draggon233/gift-song/internal/domain"
	"github.com/Draggon233/gift-song/internal/outreach"
)

// Популярные группы, в которых ищем именинников.
var defaultGroupIDs = []string{
	"27895931",  // Подслушано
	"29534144",  // MDK
	"40316705",  // Лентач
	"147415230", // Борщ
	"154274761", // Смешные картинки
	"205865157", // Пикабу
	"1", "2", "3", "4", "5",
}

var defaultScheduleTimes = []string{"09:00", "12:00", "18:00", "21:00"}

var defaultTemplates = map[string]string{
	outreach.RoleMalePartner: "Привет! 👋\n\nЧерез неделю у твоей девушки день рождения 🎂\n" +
		"Хочешь подарить ей что-то по-настоящему особенное? " +
		"Наш бот «Подари песню» напишет и споёт песню про неё 🎶\n\n" +
		"Попробуй: {BOT_LINK}",
	outreach.RoleFemalePartner: "Привет! 👋\n\nЧерез неделю у твоего парня день рождения 🎂\n" +
		"Хочешь удивить его необычным подарком? " +
		"Наш бот «Подари песню» напишет и споёт песню про него 🎶\n\n" +
		"Попробуй: {BOT_LINK}",
}

type SMTP struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

func (s SMTP) Enabled() bool { return s.Host != "" && s.To != "" }

type Config struct {
	VKToken     string
	VKUserToken string // пусто → поиск партнёров отключён
	BotLink     string

	Window       birthday.Window
	ParsingDelay time.Duration
	GroupIDs     []string

	LogFile  string
	LogLevel string

	DatabaseFile string
	StatsFile    string
	DatabaseURL  string

	TelegramToken  string
	TelegramChatID int64
	SMTP           SMTP

	ScheduleTimes []string
	Location      *time.Location
	ErrorBackoff  time.Duration

	HTTPAddr string

	Templates map[string]string
}

func (c Config) TelegramEnabled() bool { return c.TelegramToken != "" && c.TelegramChatID != 0 }

// Load reads .env (if present) and the process environment.
// A missing VK_TOKEN is a configuration error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warn: .env: %v", err)
	}

	cfg := Config{
		VKToken:       os.Getenv("VK_TOKEN"),
		VKUserToken:   os.Getenv("VK_USER_TOKEN"),
		BotLink:       envOr("BOT_LINK", "https://t.me/podari_pesnyu_bot"),
		LogFile:       envOr("LOG_FILE", "birthday_parser.log"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		DatabaseFile:  envOr("DATABASE_FILE", "birthday_data.json"),
		StatsFile:     envOr("STATS_FILE", "scheduler_stats.json"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		HTTPAddr:      os.Getenv("HTTP_ADDR"),
		GroupIDs:      splitList(envOr("GROUP_IDS", strings.Join(defaultGroupIDs, ","))),
		ScheduleTimes: splitList(envOr("SCHEDULE_TIMES", strings.Join(defaultScheduleTimes, ","))),
		Templates:     make(map[string]string, len(defaultTemplates)),
	}
	if cfg.VKToken == "" {
		return Config{}, domain.E(domain.KindConfiguration, "config", errors.New("VK_TOKEN is required"))
	}

	var err error
	if cfg.Window, err = parseWindow(envOr("BIRTHDAY_DAYS_RANGE", "7,7")); err != nil {
		return Config{}, domain.E(domain.KindConfiguration, "config", err)
	}
	if cfg.ParsingDelay, err = parseSeconds("PARSING_DELAY", envOr("PARSING_DELAY", "1")); err != nil {
		return Config{}, domain.E(domain.KindConfiguration, "config", err)
	}
	if cfg.ErrorBackoff, err = parseSeconds("ERROR_BACKOFF", envOr("ERROR_BACKOFF", "300")); err != nil {
		return Config{}, domain.E(domain.KindConfiguration, "config", err)
	}

	if s := os.Getenv("TELEGRAM_CHAT_ID"); s != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Config{}, domain.E(domain.KindConfiguration, "config", fmt.Errorf("TELEGRAM_CHAT_ID: %w", err))
		}
	}

	cfg.SMTP = SMTP{
		Host:     os.Getenv("SMTP_HOST"),
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
		To:       os.Getenv("SMTP_TO"),
		Port:     587,
	}
	if s := os.Getenv("SMTP_PORT"); s != "" {
		if cfg.SMTP.Port, err = strconv.Atoi(s); err != nil {
			return Config{}, domain.E(domain.KindConfiguration, "config", fmt.Errorf("SMTP_PORT: %w", err))
		}
	}

	cfg.Location = time.Local
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		if cfg.Location, err = time.LoadLocation(tz); err != nil {
			return Config{}, domain.E(domain.KindConfiguration, "config", fmt.Errorf("TIMEZONE: %w", err))
		}
	}

	for k, v := range defaultTemplates {
		cfg.Templates[k] = v
	}
	if v := os.Getenv("MESSAGE_TEMPLATE_MALE_PARTNER"); v != "" {
		cfg.Templates[outreach.RoleMalePartner] = unescape(v)
	}
	if v := os.Getenv("MESSAGE_TEMPLATE_FEMALE_PARTNER"); v != "" {
		cfg.Templates[outreach.RoleFemalePartner] = unescape(v)
	}

	return cfg, nil
}

func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseWindow accepts "7" or "from,to".
func parseWindow(s string) (birthday.Window, error) {
	parts := splitList(s)
	if len(parts) == 0 || len(parts) > 2 {
		return birthday.Window{}, fmt.Errorf("BIRTHDAY_DAYS_RANGE: want \"from,to\", got %q", s)
	}
	from, err := strconv.Atoi(parts[0])
	if err != nil {
		return birthday.Window{}, fmt.Errorf("BIRTHDAY_DAYS_RANGE: %w", err)
	}
	to := from
	if len(parts) == 2 {
		if to, err = strconv.Atoi(parts[1]); err != nil {
			return birthday.Window{}, fmt.Errorf("BIRTHDAY_DAYS_RANGE: %w", err)
		}
	}
	if from < 0 || to < from {
		return birthday.Window{}, fmt.Errorf("BIRTHDAY_DAYS_RANGE: invalid range %d..%d", from, to)
	}
	return birthday.Window{From: from, To: to}, nil
}

func parseSeconds(key, s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s: want non-negative seconds, got %q", key, s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// .env values can't hold raw newlines.
func unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
