// Package locale formats dates the way the Mexican Spanish UI shows them.
package locale

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

var months = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}

var shortMonths = [...]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sept", "oct", "nov", "dic"}

// LongDate renders "sábado, 17 de octubre de 2026".
func LongDate(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d", weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Year())
}

// ShortDate renders "17 oct 2026", with the day padded to two digits.
func ShortDate(t time.Time) string {
	return fmt.Sprintf("%02d %s %d", t.Day(), shortMonths[t.Month()-1], t.Year())
}

// Clock renders a 24-hour "14:05".
func Clock(t time.Time) string {
	return t.Format("15:04")
}

// MonthName returns the month in lower case, e.g. "octubre".
func MonthName(m time.Month) string {
	return months[m-1]
}

// Monday returns midnight of the Monday that names t's week. Sunday already
// counts toward the coming week, so it maps to the following day.
func Monday(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, 1-int(t.Weekday()))
}

// WeekName names the week containing t after its Monday, e.g.
// "Semana 2 Octubre" for any day from Sunday 11 to Saturday 17 October 2026.
func WeekName(t time.Time) string {
	monday := Monday(t)
	n := int(math.Ceil(float64(monday.Day()) / 7))
	month := MonthName(monday.Month())
	return fmt.Sprintf("Semana %d %s", n, strings.ToUpper(month[:1])+month[1:])
}
