package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Draggon233/gift-song/internal/config"
	"github.com/Draggon233/gift-song/internal/domain"
)

func printBanner(w io.Writer) {
	line := strings.Repeat("🎂", 50)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "🎂 VK Birthday Parser для бота 'Подари песню'")
	fmt.Fprintln(w, line)
	fmt.Fprintln(w)
}

// checkConfig prints token status. It is false only when the configuration
// cannot be used at all.
func checkConfig(w io.Writer, cfg config.Config, loadErr error) bool {
	fmt.Fprintln(w, "🔧 Проверка конфигурации...")
	if loadErr != nil {
		var de *domain.Error
		if errors.As(loadErr, &de) && cfg.VKToken == "" {
			fmt.Fprintln(w, "❌ VK_TOKEN не настроен")
			fmt.Fprintln(w, "   Получите токен на https://vkhost.github.io/")
		}
		fmt.Fprintf(w, "❌ Ошибка конфигурации: %v\n", loadErr)
		return false
	}
	fmt.Fprintln(w, "✅ VK_TOKEN настроен")

	if cfg.VKUserToken == "" {
		fmt.Fprintln(w, "⚠️  VK_USER_TOKEN не настроен (ограниченная функциональность)")
		fmt.Fprintln(w, "   Получите токен пользователя на https://vkhost.github.io/")
	} else {
		fmt.Fprintln(w, "✅ VK_USER_TOKEN настроен")
	}
	fmt.Fprintf(w, "✅ Ссылка на бота: %s\n", cfg.BotLink)
	return true
}

func printMenu(w io.Writer) {
	fmt.Fprintln(w, "\n🎯 Выберите режим работы:")
	fmt.Fprintln(w, "1. 🔍 Однократный парсинг")
	fmt.Fprintln(w, "2. ⏰ Запуск планировщика")
	fmt.Fprintln(w, "3. 📖 Справка")
	fmt.Fprintln(w, "4. ❌ Выход")
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "📖 Справка по использованию:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Настройка токенов:")
	fmt.Fprintln(w, "   - Скопируйте .env.example в .env")
	fmt.Fprintln(w, "   - Получите VK токены на https://vkhost.github.io/")
	fmt.Fprintln(w, "   - Заполните токены в файле .env")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "2. Запуск без меню:")
	fmt.Fprintln(w, "   parser -mode once       однократный парсинг")
	fmt.Fprintln(w, "   parser -mode schedule   планировщик")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "3. Режимы работы:")
	fmt.Fprintln(w, "   1 - Однократный парсинг")
	fmt.Fprintln(w, "   2 - Запуск планировщика")
	fmt.Fprintln(w, "   3 - Справка")
	fmt.Fprintln(w, "   4 - Выход")
}

// chooseMode runs the numeric menu and returns "once", "schedule" or "exit".
// EOF and cancellation count as exit.
func chooseMode(ctx context.Context, in io.Reader, w io.Writer) string {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	printMenu(w)
	for {
		fmt.Fprint(w, "\nВведите номер (1-4): ")
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return "exit"
		case line, ok = <-lines:
		}
		if !ok {
			return "exit"
		}

		switch strings.TrimSpace(line) {
		case "1":
			return "once"
		case "2":
			return "schedule"
		case "3":
			printHelp(w)
			printMenu(w)
		case "4":
			return "exit"
		default:
			fmt.Fprintln(w, "❌ Неверный выбор. Введите число от 1 до 4.")
		}
	}
}
