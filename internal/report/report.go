// Package report tells the operator how a cycle went.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Draggon233/gift-song/internal/repo"
)

// Summary is what one cycle reports.
type Summary struct {
	Processed int
	Sent      int
	At        time.Time
	Totals    repo.Statistics
}

type Reporter interface {
	Report(ctx context.Context, s Summary) error
}

func FormatSummary(s Summary) string {
	var b strings.Builder
	b.WriteString("🎂 Отчет о проверке дней рождения\n\n")
	b.WriteString("📊 Результаты:\n")
	fmt.Fprintf(&b, "✅ Обработано пользователей: %d\n", s.Processed)
	fmt.Fprintf(&b, "📨 Отправлено сообщений: %d\n", s.Sent)
	fmt.Fprintf(&b, "⏰ Время: %s\n\n", s.At.Format("02.01.2006 15:04"))
	b.WriteString("📈 Общая статистика:\n")
	fmt.Fprintf(&b, "🔄 Всего запусков: %d\n", s.Totals.TotalRuns)
	fmt.Fprintf(&b, "👥 Всего обработано: %d\n", s.Totals.TotalProcessed)
	fmt.Fprintf(&b, "📤 Всего сообщений: %d\n\n", s.Totals.TotalMessages)
	if s.Sent > 0 {
		b.WriteString("🎉 Отличная работа! Сообщения отправлены!")
	} else {
		b.WriteString("😔 Сообщений не отправлено, но система работает")
	}
	return b.String()
}

// FormatStats renders lifetime totals and the seven days ending today.
func FormatStats(st repo.Statistics, today time.Time) string {
	var b strings.Builder
	b.WriteString("📊 Статистика планировщика:\n")
	fmt.Fprintf(&b, "   🔄 Всего запусков: %d\n", st.TotalRuns)
	fmt.Fprintf(&b, "   👥 Всего обработано пользователей: %d\n", st.TotalProcessed)
	fmt.Fprintf(&b, "   📨 Всего отправлено сообщений: %d\n", st.TotalMessages)
	if !st.LastRun.IsZero() {
		fmt.Fprintf(&b, "   ⏰ Последний запуск: %s\n", st.LastRun.Format("02.01.2006 15:04"))
	}

	b.WriteString("\n📈 Статистика за последние 7 дней:\n")
	for i := 0; i < 7; i++ {
		day := today.AddDate(0, 0, -i)
		if d, ok := st.Day(day); ok {
			fmt.Fprintf(&b, "   %s: %d обработано, %d сообщений\n", day.Format("02.01"), d.Processed, d.Messages)
		} else {
			fmt.Fprintf(&b, "   %s: нет данных\n", day.Format("02.01"))
		}
	}
	return b.String()
}

// Multi sends to every reporter. One failing channel does not stop the rest.
type Multi struct {
	reporters []Reporter
	log       *slog.Logger
}

func NewMulti(log *slog.Logger, rs ...Reporter) *Multi {
	return &Multi{reporters: rs, log: log}
}

func (m *Multi) Len() int { return len(m.reporters) }

// Report returns the first error after trying every channel.
func (m *Multi) Report(ctx context.Context, s Summary) error {
	var first error
	for _, r := range m.reporters {
		if err := r.Report(ctx, s); err != nil {
			m.log.Error("report failed", "reporter", fmt.Sprintf("%T", r), "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
